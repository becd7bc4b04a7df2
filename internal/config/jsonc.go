package config

// StripJSONComments turns JSONC into JSON: it removes // and /* */ comments
// and drops trailing commas before } or ]. String contents are untouched,
// escapes included. Comments are replaced by nothing and newlines are kept,
// so JSON syntax errors still point at the right line.
func StripJSONComments(data []byte) []byte {
	out := make([]byte, 0, len(data))
	// pendingComma is the index in out of a comma that may turn out to be
	// trailing, or -1
	pendingComma := -1

	for i := 0; i < len(data); i++ {
		c := data[i]

		switch {
		case c == '"':
			end := skipString(data, i)
			out = append(out, data[i:end]...)
			pendingComma = -1
			i = end - 1

		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}

		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i < len(data) && !(data[i] == '*' && i+1 < len(data) && data[i+1] == '/') {
				if data[i] == '\n' {
					out = append(out, '\n')
				}
				i++
			}
			i++ // on the closing '/'

		case c == ',':
			pendingComma = len(out)
			out = append(out, c)

		case c == '}' || c == ']':
			if pendingComma >= 0 {
				out = append(out[:pendingComma], out[pendingComma+1:]...)
			}
			pendingComma = -1
			out = append(out, c)

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			out = append(out, c)

		default:
			pendingComma = -1
			out = append(out, c)
		}
	}
	return out
}

// skipString returns the index just past the string literal starting at
// data[start], or len(data) if it is unterminated
func skipString(data []byte, start int) int {
	for i := start + 1; i < len(data); i++ {
		switch data[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(data)
}
