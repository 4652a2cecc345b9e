package domain

import "strings"

// NormalizeDocument strips formatting from a CPF or CNPJ and checks its
// verifier digits.
func NormalizeDocument(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", Validation("document", "Document is required")
	}
	digits := onlyDigits(raw)
	switch {
	case len(digits) == 11 && validCPF(digits):
		return digits, nil
	case len(digits) == 14 && validCNPJ(digits):
		return digits, nil
	}
	return "", Validation("document", "Document must be a valid CPF or CNPJ")
}

// CompleteCPF appends the two verifier digits to a nine digit CPF base.
func CompleteCPF(base string) string {
	d1 := cpfVerifier(base, 9)
	d2 := cpfVerifier(base+string(rune('0'+d1)), 10)
	return base + string(rune('0'+d1)) + string(rune('0'+d2))
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func repeatedDigits(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}

func cpfVerifier(cpf string, length int) int {
	sum := 0
	for i := 0; i < length; i++ {
		sum += int(cpf[i]-'0') * (length + 1 - i)
	}
	if r := 11 - sum%11; r < 10 {
		return r
	}
	return 0
}

func validCPF(cpf string) bool {
	if repeatedDigits(cpf) {
		return false
	}
	return int(cpf[9]-'0') == cpfVerifier(cpf, 9) && int(cpf[10]-'0') == cpfVerifier(cpf, 10)
}

var (
	cnpjWeights12 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights13 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

func cnpjVerifier(cnpj string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(cnpj[i]-'0') * w
	}
	if r := sum % 11; r >= 2 {
		return 11 - r
	}
	return 0
}

func validCNPJ(cnpj string) bool {
	if repeatedDigits(cnpj) {
		return false
	}
	return int(cnpj[12]-'0') == cnpjVerifier(cnpj, cnpjWeights12) && int(cnpj[13]-'0') == cnpjVerifier(cnpj, cnpjWeights13)
}
