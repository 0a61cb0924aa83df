package domain

// AvailableModels lists the whisper model identifiers the service accepts
// for hot switching.
var AvailableModels = []string{
	"tiny", "base", "small", "medium",
	"large-v1", "large-v2", "large-v3", "distil-large-v3",
}

// ComputeTypes lists the accepted precision hints passed through to the
// engine.
var ComputeTypes = []string{
	"int8", "int8_float16", "int16", "float16", "float32",
}

func ValidModelID(id string) bool {
	for _, m := range AvailableModels {
		if m == id {
			return true
		}
	}
	return false
}

func ValidComputeType(ct string) bool {
	for _, c := range ComputeTypes {
		if c == ct {
			return true
		}
	}
	return false
}

// ModelFilename returns the on-disk GGML weights filename for a model id.
func ModelFilename(id string) string {
	return "ggml-" + id + ".bin"
}
