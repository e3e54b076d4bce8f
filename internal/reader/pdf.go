package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MaxPDFPages bounds how many pages are read
const MaxPDFPages = 50

var pageNumber = regexp.MustCompile(`(\d+)\.txt$`)

// ReadPDF extracts page content streams with pdfcpu and decodes their
// text-showing operators. Scanned PDFs yield little or no text.
func ReadPDF(path string) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCountFile(path)
	if err != nil {
		return "", fmt.Errorf("invalid pdf: %w", err)
	}
	var selected []string
	if pages > MaxPDFPages {
		selected = []string{fmt.Sprintf("1-%d", MaxPDFPages)}
	}

	outDir, err := os.MkdirTemp("", "docpipe-pdf-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, selected, conf); err != nil {
		return "", fmt.Errorf("failed to extract pdf content: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(outDir, "*.txt"))
	if err != nil {
		return "", err
	}
	sort.Slice(files, func(i, j int) bool { return pageOf(files[i]) < pageOf(files[j]) })

	var parts []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(ContentStreamText(data)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func pageOf(name string) int {
	m := pageNumber.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ContentStreamText decodes the strings shown by Tj, TJ, ' and " in a page
// content stream. Text positioning operators become line breaks, and large
// negative TJ adjustments become spaces.
func ContentStreamText(stream []byte) string {
	var out strings.Builder
	var operands []string
	var array []string
	inArray := false
	s := stream

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '(':
			str, next := literalString(s, i)
			if inArray {
				array = append(array, str)
			} else {
				operands = append(operands, str)
			}
			i = next
		case c == '<' && i+1 < len(s) && s[i+1] != '<':
			str, next := hexString(s, i)
			if inArray {
				array = append(array, str)
			} else {
				operands = append(operands, str)
			}
			i = next
		case c == '<':
			// dictionary start, or a stray byte at the end
			if i+1 < len(s) && s[i+1] == '<' {
				i += 2
			} else {
				i++
			}
		case c == '[':
			inArray = true
			array = array[:0]
			i++
		case c == ']':
			inArray = false
			i++
		case c == '%':
			for i < len(s) && s[i] != '\n' && s[i] != '\r' {
				i++
			}
		case isDelimiter(c):
			i++
		default:
			start := i
			for i < len(s) && !isDelimiter(s[i]) && s[i] != '(' && s[i] != '<' && s[i] != '[' && s[i] != ']' {
				i++
			}
			word := string(s[start:i])
			if inArray {
				if n, err := strconv.ParseFloat(word, 64); err == nil && n < -200 {
					array = append(array, " ")
				}
				continue
			}
			switch word {
			case "Tj":
				if len(operands) > 0 {
					out.WriteString(operands[len(operands)-1])
				}
			case "'", "\"":
				out.WriteByte('\n')
				if len(operands) > 0 {
					out.WriteString(operands[len(operands)-1])
				}
			case "TJ":
				out.WriteString(strings.Join(array, ""))
				array = array[:0]
			case "T*", "Td", "TD", "ET":
				if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
					out.WriteByte('\n')
				}
			}
			if _, err := strconv.ParseFloat(word, 64); err != nil {
				operands = operands[:0]
			}
		}
	}
	return out.String()
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0, '/', '{', '}', '>':
		return true
	}
	return false
}

// literalString decodes a (...) string starting at s[i]
func literalString(s []byte, i int) (string, int) {
	var b strings.Builder
	depth := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					j := i
					for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
						j++
					}
					v, _ := strconv.ParseUint(string(s[i:j]), 8, 8)
					b.WriteByte(byte(v))
					i = j - 1
				} else {
					b.WriteByte(e)
				}
			}
		case c == '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String(), i
}

// hexString decodes a <...> string starting at s[i]
func hexString(s []byte, i int) (string, int) {
	end := i + 1
	for end < len(s) && s[end] != '>' {
		end++
	}
	digits := strings.Map(func(r rune) rune {
		if strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return r
		}
		return -1
	}, string(s[i+1:min(end, len(s))]))
	if len(digits)%2 == 1 {
		digits += "0"
	}

	var b strings.Builder
	for j := 0; j+1 < len(digits); j += 2 {
		v, _ := strconv.ParseUint(digits[j:j+2], 16, 8)
		if v >= 32 && v < 127 || v == '\n' {
			b.WriteByte(byte(v))
		}
	}
	return b.String(), min(end+1, len(s))
}
