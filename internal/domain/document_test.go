package domain

import "testing"

func TestNormalizeDocument(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "529.982.247-25", want: "52998224725"},
		{in: "11144477735", want: "11144477735"},
		{in: "11.222.333/0001-81", want: "11222333000181"},
		{in: "  ", wantErr: "Document is required"},
		{in: "529.982.247-24", wantErr: "Document must be a valid CPF or CNPJ"},
		{in: "111.111.111-11", wantErr: "Document must be a valid CPF or CNPJ"},
		{in: "11.222.333/0001-82", wantErr: "Document must be a valid CPF or CNPJ"},
		{in: "1234", wantErr: "Document must be a valid CPF or CNPJ"},
	}
	for _, tt := range tests {
		got, err := NormalizeDocument(tt.in)
		if tt.wantErr != "" {
			de, ok := AsError(err)
			if !ok || de.Code != CodeValidation || de.Field != "document" || de.Message != tt.wantErr {
				t.Errorf("%q: expected %q, got %v", tt.in, tt.wantErr, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestCompleteCPF(t *testing.T) {
	if got := CompleteCPF("529982247"); got != "52998224725" {
		t.Fatalf("got %s", got)
	}
	if _, err := NormalizeDocument(CompleteCPF("100000001")); err != nil {
		t.Fatalf("completed cpf rejected: %v", err)
	}
}
