package tools

import "testing"

func TestCalcEval(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2+2", "4"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"10 / 4", "2.5"},
		{"-3 + 5", "2"},
		{"2 * -3", "-6"},
		{"((1+2)*(3+4))", "21"},
		{"100 - 25 - 25", "50"},
	}
	c := NewCalc()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := c.Eval(tt.expr)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Fatalf("Eval(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCalcEvalErrors(t *testing.T) {
	c := NewCalc()
	for _, expr := range []string{"", "1/0", "2+", "(1+2", "abc", "1 + x"} {
		if _, err := c.Eval(expr); err == nil {
			t.Fatalf("Eval(%q) succeeded, want error", expr)
		}
	}
}
