package discovery

import "testing"

func TestParseTXT_ParsesKeyValuePairs(t *testing.T) {
	got := parseTXT([]string{"api_version=1", "https=false", "auth_required=true"})

	if got["api_version"] != "1" {
		t.Fatalf("expected api_version=1, got %q", got["api_version"])
	}
	if got["https"] != "false" {
		t.Fatalf("expected https=false, got %q", got["https"])
	}
	if got["auth_required"] != "true" {
		t.Fatalf("expected auth_required=true, got %q", got["auth_required"])
	}
}

func TestParseTXT_IgnoresMalformedEntries(t *testing.T) {
	got := parseTXT([]string{"novalue", "key=value"})
	if _, ok := got["novalue"]; ok {
		t.Fatal("expected an entry with no '=' to be skipped")
	}
	if got["key"] != "value" {
		t.Fatalf("expected key=value, got %q", got["key"])
	}
}

func TestParseTXT_ValueContainingEquals(t *testing.T) {
	got := parseTXT([]string{"note=a=b=c"})
	if got["note"] != "a=b=c" {
		t.Fatalf("expected the value to keep embedded '=' signs, got %q", got["note"])
	}
}

func TestParseTXT_EmptyInput(t *testing.T) {
	got := parseTXT(nil)
	if len(got) != 0 {
		t.Fatalf("expected an empty map for no TXT records, got %v", got)
	}
}
