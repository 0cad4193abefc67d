package catalog

import "testing"

func datasourceEndpoint() Endpoint {
	return Endpoint{
		FunctionName: "create_datasource",
		Parameters: []Parameter{
			{Name: "name", Type: "java.lang.String", Required: true},
			{Name: "port", Type: "java.lang.Integer", Required: true},
			{Name: "shared", Type: "java.lang.Boolean"},
			{Name: "severity", Type: "java.lang.String", Values: []string{"LOW", "MED", "HIGH"}},
		},
	}
}

func TestValidateParams_Valid(t *testing.T) {
	err := ValidateParams(datasourceEndpoint(), map[string]any{
		"name":     "prod-db",
		"port":     5432,
		"shared":   true,
		"severity": "HIGH",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateParams_MissingRequired(t *testing.T) {
	err := ValidateParams(datasourceEndpoint(), map[string]any{"name": "prod-db"})
	if err == nil {
		t.Fatal("expected error for missing required parameter")
	}
}

func TestValidateParams_WrongType(t *testing.T) {
	err := ValidateParams(datasourceEndpoint(), map[string]any{
		"name": "prod-db",
		"port": "not-a-number",
	})
	if err == nil {
		t.Fatal("expected error for non-integer port")
	}
}

func TestValidateParams_EnumViolation(t *testing.T) {
	err := ValidateParams(datasourceEndpoint(), map[string]any{
		"name":     "prod-db",
		"port":     5432,
		"severity": "CRITICAL",
	})
	if err == nil {
		t.Fatal("expected error for out-of-enum severity")
	}
}

func TestValidateParams_UnknownParameter(t *testing.T) {
	err := ValidateParams(datasourceEndpoint(), map[string]any{
		"name":    "prod-db",
		"port":    5432,
		"unknown": "x",
	})
	if err == nil {
		t.Fatal("expected error for unknown parameter")
	}
}

func TestValidateParams_NoParametersEndpoint(t *testing.T) {
	ep := Endpoint{FunctionName: "run_report_by_name"}
	if err := ValidateParams(ep, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateParams(ep, map[string]any{"stray": 1}); err == nil {
		t.Fatal("expected error for parameters on a parameterless endpoint")
	}
}

func TestSchemaType_Mapping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"java.lang.String", "string"},
		{"java.lang.Integer", "integer"},
		{"java.lang.Long", "integer"},
		{"java.lang.Boolean", "boolean"},
		{"java.lang.Double", "number"},
		{"com.guardium.CustomType", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := schemaType(tc.in); got != tc.want {
			t.Errorf("schemaType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
