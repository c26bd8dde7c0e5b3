package envconf

import (
	"slices"
	"strconv"
	"testing"
	"time"
)

func mustLoad(t *testing.T) *Env {
	t.Helper()
	e, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func TestLenientReadersFallBack(t *testing.T) {
	t.Setenv("TRACKR_TEST_INT", "-4")
	t.Setenv("TRACKR_TEST_INT32", "0")
	t.Setenv("TRACKR_TEST_BOOL", "sometimes")
	t.Setenv("TRACKR_TEST_DUR", "90s")
	t.Setenv("TRACKR_TEST_STR", "   ")
	t.Setenv("TRACKR_TEST_FLOAT", "2.5")
	e := mustLoad(t)

	if got := e.Int("TRACKR_TEST_INT", 7); got != 7 {
		t.Fatalf("Int=%d, want fallback 7", got)
	}
	if got := e.Int32("TRACKR_TEST_INT32", 9); got != 0 {
		t.Fatalf("Int32=%d, want 0", got)
	}
	if got := e.Bool("TRACKR_TEST_BOOL", true); !got {
		t.Fatalf("Bool should fall back to true")
	}
	if got := e.Duration("TRACKR_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("Duration=%s", got)
	}
	if got := e.String("TRACKR_TEST_STR", "def"); got != "def" {
		t.Fatalf("String=%q, want def for blank", got)
	}
	if got := e.Float("TRACKR_TEST_FLOAT", 1); got != 2.5 {
		t.Fatalf("Float=%v", got)
	}
	if got := e.Int64("TRACKR_TEST_UNSET_INT64", 11); got != 11 {
		t.Fatalf("Int64=%d", got)
	}
}

func TestLoadIsASnapshot(t *testing.T) {
	t.Setenv("TRACKR_TEST_SNAPSHOT", "before")
	e := mustLoad(t)
	t.Setenv("TRACKR_TEST_SNAPSHOT", "after")

	if got := e.String("TRACKR_TEST_SNAPSHOT", ""); got != "before" {
		t.Fatalf("String=%q, want the value at Load time", got)
	}
}

func TestCSV(t *testing.T) {
	t.Setenv("TRACKR_TEST_CSV", " a, ,b ,,c ")
	if got := mustLoad(t).CSV("TRACKR_TEST_CSV", nil); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("CSV=%q", got)
	}

	t.Setenv("TRACKR_TEST_CSV", " , ")
	if got := mustLoad(t).CSV("TRACKR_TEST_CSV", []string{"def"}); !slices.Equal(got, []string{"def"}) {
		t.Fatalf("CSV=%q, want def", got)
	}
}

func TestSetReportsInvalidValues(t *testing.T) {
	t.Setenv("TRACKR_TEST_SET_DUR", "3s")
	t.Setenv("TRACKR_TEST_SET_INT", "0")
	t.Setenv("TRACKR_TEST_SET_BOOL", "nope")
	t.Setenv("TRACKR_TEST_SET_RANGE", "99")
	e := mustLoad(t)

	d := time.Minute
	if err := e.SetDuration("TRACKR_TEST_SET_DUR", &d); err != nil || d != 3*time.Second {
		t.Fatalf("SetDuration d=%s err=%v", d, err)
	}

	n := 5
	if err := e.SetInt("TRACKR_TEST_SET_INT", &n); err == nil || n != 5 {
		t.Fatalf("SetInt n=%d err=%v, want error and unchanged", n, err)
	}

	b := true
	if err := e.SetBool("TRACKR_TEST_SET_BOOL", &b); err == nil || !b {
		t.Fatalf("SetBool b=%v err=%v, want error and unchanged", b, err)
	}

	f := 1.5
	if err := e.SetFloat("TRACKR_TEST_SET_UNSET", &f); err != nil || f != 1.5 {
		t.Fatalf("SetFloat on unset f=%v err=%v", f, err)
	}

	r := 40
	inRange := func(v int) bool { return v >= 32 && v <= 64 }
	if err := Set(e, "TRACKR_TEST_SET_RANGE", &r, strconv.Atoi, inRange); err == nil || r != 40 {
		t.Fatalf("Set out of range r=%d err=%v", r, err)
	}
}
