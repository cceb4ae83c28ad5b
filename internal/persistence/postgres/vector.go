package postgres

import (
	"fmt"
	"strings"
)

// toVectorLiteral renders a float32 vector as a pgvector input literal, e.g.
// "[0.1,0.2,0.3]".
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
