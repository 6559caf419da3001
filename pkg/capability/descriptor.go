package capability

// Descriptor is the structured tool shape handed to an LLM call
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// messageSchema is the single-parameter schema every agent exposes
func messageSchema(agent *Agent) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The task or question for " + agent.Name,
			},
		},
		"required": []string{"message"},
	}
}

// emptySchema is the degraded shape used when a primitive's parameter
// schema is malformed or missing.
func emptySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Descriptors converts the named capabilities into tool descriptors. A
// malformed or missing parameter schema degrades to an empty property set
// rather than failing the call; unknown names are skipped.
func (r *Registry) Descriptors(names []string) []Descriptor {
	descriptors := make([]Descriptor, 0, len(names))

	for _, name := range names {
		cap, ok := r.Get(name)
		if !ok {
			r.logger.Warn().Str("capability", name).Msg("Descriptor requested for unknown capability, skipping")
			continue
		}

		descriptor := Descriptor{
			Name:        cap.CapabilityName(),
			Description: cap.CapabilityDescription(),
		}

		switch c := cap.(type) {
		case *Agent:
			descriptor.InputSchema = messageSchema(c)
		case *Primitive:
			schemaMap, err := schemaMapFor(c.Parameters)
			if err != nil {
				r.logger.Warn().Str("capability", name).Err(err).
					Msg("Malformed parameter schema, degrading to empty properties")
				schemaMap = emptySchema()
			}
			descriptor.InputSchema = schemaMap
		default:
			descriptor.InputSchema = emptySchema()
		}

		descriptors = append(descriptors, descriptor)
	}

	return descriptors
}
