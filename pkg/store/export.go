package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loomlab/loom/internal/observability"
)

// exportMaxDepth bounds export recursion under pathological nesting
const exportMaxDepth = 32

// TranscriptNode is the tree-shaped export: a thread's messages plus the
// delegation children spawned from each of them.
type TranscriptNode struct {
	Thread   *Thread           `json:"thread"`
	Messages []Message         `json:"messages"`
	Children []*TranscriptNode `json:"children,omitempty"`
	Usage    Usage             `json:"usage"`
}

// ExportTree assembles a thread and all descendants with full transcripts
func (s *Store) ExportTree(ctx context.Context, threadID string) (*TranscriptNode, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("export_tree", time.Since(start))
	}()

	return s.exportNode(ctx, threadID, 0)
}

func (s *Store) exportNode(ctx context.Context, threadID string, depth int) (*TranscriptNode, error) {
	if depth >= exportMaxDepth {
		return nil, fmt.Errorf("%w: export exceeds depth %d", ErrInvalid, exportMaxDepth)
	}

	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	messages, err := s.Messages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	usage, err := s.ThreadUsage(ctx, threadID)
	if err != nil {
		return nil, err
	}

	node := &TranscriptNode{
		Thread:   thread,
		Messages: messages,
		Usage:    usage,
	}

	childIDs, err := s.childThreadIDs(ctx, threadID)
	if err != nil {
		return nil, err
	}

	for _, childID := range childIDs {
		child, err := s.exportNode(ctx, childID, depth+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

// ExportMarkdown renders a thread tree as a nested document. Each child
// delegation's transcript is inlined directly after the message whose tool
// call triggered it, so the document reads in causal order.
func (s *Store) ExportMarkdown(ctx context.Context, threadID string) (string, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("export_markdown", time.Since(start))
	}()

	node, err := s.ExportTree(ctx, threadID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	renderNode(&sb, node, 0)
	return sb.String(), nil
}

func renderNode(sb *strings.Builder, node *TranscriptNode, level int) {
	heading := strings.Repeat("#", level+1)
	title := node.Thread.Name
	if title == "" {
		title = node.Thread.ID
	}

	fmt.Fprintf(sb, "%s %s (%s, agent: %s)\n\n", heading, title, node.Thread.Type, node.Thread.OwningAgent)

	// Children grouped by the message that spawned them
	childrenByMessage := make(map[int64][]*TranscriptNode)
	var unanchored []*TranscriptNode
	for _, child := range node.Children {
		seq := child.Thread.ParentMessageID
		if seq == 0 {
			unanchored = append(unanchored, child)
			continue
		}
		childrenByMessage[seq] = append(childrenByMessage[seq], child)
	}

	for _, msg := range node.Messages {
		renderMessage(sb, msg)

		for _, child := range childrenByMessage[msg.Seq] {
			renderNode(sb, child, level+1)
		}
	}

	// Children whose trigger message was not recorded render at the end
	for _, child := range unanchored {
		renderNode(sb, child, level+1)
	}

	if node.Usage.InputTokens > 0 || node.Usage.OutputTokens > 0 {
		fmt.Fprintf(sb, "_Usage: %d in / %d out", node.Usage.InputTokens, node.Usage.OutputTokens)
		if node.Usage.CostUSD > 0 {
			fmt.Fprintf(sb, " ($%.4f)", node.Usage.CostUSD)
		}
		sb.WriteString("_\n\n")
	}
}

func renderMessage(sb *strings.Builder, msg Message) {
	author := msg.Role
	if msg.FromAgent != "" {
		author = fmt.Sprintf("%s (%s)", msg.Role, msg.FromAgent)
	}

	fmt.Fprintf(sb, "**%s**: %s\n\n", author, msg.Content)

	for _, call := range msg.ToolCalls {
		// json.Marshal sorts map keys, keeping the export deterministic
		params, _ := json.Marshal(call.Parameters)
		fmt.Fprintf(sb, "- tool call `%s` %s\n", call.Name, string(params))
	}
	if len(msg.ToolCalls) > 0 {
		sb.WriteString("\n")
	}

	for _, result := range msg.ToolResults {
		if result.Error != "" {
			fmt.Fprintf(sb, "- tool error: %s\n", result.Error)
		} else {
			fmt.Fprintf(sb, "- tool result: %s\n", result.Output)
		}
	}
	if len(msg.ToolResults) > 0 {
		sb.WriteString("\n")
	}
}
