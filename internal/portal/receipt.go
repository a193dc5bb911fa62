package portal

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	rpdf "rsc.io/pdf"
)

var confirmationPattern = regexp.MustCompile(`(?i)\b(?:confirmation|tracking|receipt|submission)\s*(?:number|no\.?|#|id)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{4,})`)

// ConfirmationFromText finds a portal confirmation number in receipt text.
func ConfirmationFromText(text string) (string, bool) {
	text = strings.Join(strings.Fields(text), " ")
	for _, m := range confirmationPattern.FindAllStringSubmatch(text, -1) {
		candidate := strings.ToUpper(m[1])
		// Skip words that happen to follow the label, e.g. "Receipt Date".
		if strings.ContainsAny(candidate, "0123456789") {
			return candidate, true
		}
	}
	return "", false
}

// ReceiptText extracts the text layer of a PDF receipt.
func ReceiptText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			b.WriteString(fragment.S)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ConfirmationFromPDF reads a confirmation number out of a PDF receipt.
func ConfirmationFromPDF(content []byte) (string, error) {
	text, err := ReceiptText(content)
	if err != nil {
		return "", fmt.Errorf("read receipt pdf: %w", err)
	}
	num, ok := ConfirmationFromText(text)
	if !ok {
		return "", fmt.Errorf("no confirmation number in receipt pdf")
	}
	return num, nil
}
