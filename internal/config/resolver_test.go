package config

import "testing"

func TestResolverPrecedence(t *testing.T) {
	r := New("mygame", true, false)
	r.SetLayered("common.key", "common-value")
	r.SetLayered("mygame.key", "project-value")
	r.SetLayered("common.kinesis.key", "common-conn-value")
	r.SetLayered("mygame.kinesis.key", "project-conn-value")
	r.SetLayered("test.common.kinesis.key", "test-common-conn-value")
	r.SetLayered("test.mygame.kinesis.key", "test-project-conn-value")

	v, ok := r.String("kinesis", "key")
	if !ok || v != "test-project-conn-value" {
		t.Fatalf("expected test-project-conn-value, got %q (ok=%v)", v, ok)
	}

	r.SetOverride("kinesis.key", "override-value")
	v, ok = r.String("kinesis", "key")
	if !ok || v != "override-value" {
		t.Fatalf("override should win, got %q", v)
	}
}

func TestResolverFallsThroughToCommon(t *testing.T) {
	r := New("mygame", false, false)
	r.SetLayered("common.key", "common-value")

	v, ok := r.String("", "key")
	if !ok || v != "common-value" {
		t.Fatalf("expected common-value, got %q (ok=%v)", v, ok)
	}
}

func TestResolverLocalModeGated(t *testing.T) {
	r := New("mygame", false, false)
	r.SetLayered("test.common.kinesis.key", "should-not-be-seen")
	r.SetLayered("mygame.kinesis.key", "project-value")

	v, ok := r.String("kinesis", "key")
	if !ok || v != "project-value" {
		t.Fatalf("expected project-value when localMode=false, got %q (ok=%v)", v, ok)
	}
}

func TestTypedAccessorDefaultOnlyOnAbsence(t *testing.T) {
	r := New("mygame", false, false)
	r.SetLayered("mygame.limit", "not-an-int")

	if _, err := r.Int("", "limit", 10, true); err == nil {
		t.Fatalf("expected parse error to surface even with a default")
	}

	n, err := r.Int("", "missing", 10, true)
	if err != nil || n != 10 {
		t.Fatalf("expected default 10 for missing key, got %d err=%v", n, err)
	}

	if _, err := r.Int("", "missing2", 0, false); err == nil {
		t.Fatalf("expected ConfigError for missing required key without default")
	}
}

func TestList(t *testing.T) {
	r := New("mygame", false, false)
	r.SetLayered("mygame.brokers", "a:9092, b:9092 ,c:9092")

	got, err := r.List("", "brokers", nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a:9092", "b:9092", "c:9092"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
