package extract

import (
	"strconv"
	"strings"
)

// ContentText recovers the literal strings shown by text operators in a
// page content stream. Hex strings and font encodings are not decoded.
// Line-moving operators become newlines.
func ContentText(stream []byte) string {
	var (
		sb      strings.Builder
		pending []string
		inText  bool
	)

	flush := func() {
		for _, s := range pending {
			sb.WriteString(s)
		}
		pending = pending[:0]
	}
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteral(stream, i)
			if inText {
				pending = append(pending, s)
			}
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] != '<':
			// hex string, skipped
			for i < len(stream) && stream[i] != '>' {
				i++
			}
			i++
		case isRegular(c):
			start := i
			for i < len(stream) && isRegular(stream[i]) {
				i++
			}
			op := string(stream[start:i])
			switch op {
			case "BT":
				inText = true
			case "ET":
				flush()
				newline()
				inText = false
			case "Tj", "TJ":
				flush()
			case "'", "\"":
				newline()
				flush()
			case "T*", "Td", "TD", "Tm":
				pending = pending[:0]
				newline()
			default:
				if _, err := strconv.ParseFloat(op, 64); err != nil && !strings.HasPrefix(op, "/") {
					pending = pending[:0]
				}
			}
		default:
			i++
		}
	}
	flush()
	return strings.TrimSpace(sb.String())
}

// readLiteral reads a balanced literal string starting at stream[start] == '('.
func readLiteral(stream []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(stream) {
		c := stream[i]
		switch c {
		case '\\':
			i++
			if i >= len(stream) {
				return sb.String(), i
			}
			esc := stream[i]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if esc >= '0' && esc <= '7' {
					n := 0
					j := 0
					for j < 3 && i < len(stream) && stream[i] >= '0' && stream[i] <= '7' {
						n = n*8 + int(stream[i]-'0')
						i++
						j++
					}
					sb.WriteByte(byte(n))
					continue
				}
				sb.WriteByte(esc)
			}
			i++
			continue
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '%':
		return false
	}
	return true
}
