package topology

import "github.com/microcosm-cc/bluemonday"

// metadataPolicy strips HTML/script content from free-form string
// values before they are ever echoed back through the CLI/API/event
// stream (§9 Design Note 1): metadata is attacker-controlled in a
// multi-tenant swarm, so every value that entered via RegisterAgent or
// a routed message payload passes through here once, at the point it
// is admitted into the topology.
var metadataPolicy = bluemonday.UGCPolicy()

// sanitizeMetadata returns a copy of m with every string value and every
// []string element, including those inside nested maps at any depth,
// passed through metadataPolicy. Other values (including []interface{})
// are copied unchanged.
func sanitizeMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return metadataPolicy.Sanitize(val)
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(val))
		for k, nv := range val {
			nested[k] = sanitizeValue(nv)
		}
		return nested
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = metadataPolicy.Sanitize(s)
		}
		return out
	default:
		return v
	}
}
