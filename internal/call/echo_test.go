package call

import (
	"testing"
	"time"
)

func TestEchoRegister_ExactEchoDropped(t *testing.T) {
	r := newEchoRegister(0.82)
	now := time.Now()
	r.Add("Our plans start at thirty dollars.", now)

	if !r.IsEcho("our plans start at thirty dollars", now.Add(time.Second)) {
		t.Error("normalised echo of agent speech should be detected")
	}
}

func TestEchoRegister_SubstringAndSuperstring(t *testing.T) {
	r := newEchoRegister(0.82)
	now := time.Now()
	r.Add("Thanks for calling Acme Dental today.", now)

	if !r.IsEcho("calling acme dental", now) {
		t.Error("substring of agent speech should be detected")
	}
	if !r.IsEcho("uh thanks for calling acme dental today okay", now) {
		t.Error("superstring of agent speech should be detected")
	}
}

func TestEchoRegister_NearMatchBySimilarity(t *testing.T) {
	r := newEchoRegister(0.82)
	now := time.Now()
	r.Add("Our plans start at thirty dollars.", now)

	// One word misheard, everything else identical.
	if !r.IsEcho("our plans start at thirteen dollars", now) {
		t.Error("near-identical transcript should be detected as echo")
	}
}

func TestEchoRegister_DistinctSpeechPasses(t *testing.T) {
	r := newEchoRegister(0.82)
	now := time.Now()
	r.Add("Our plans start at thirty dollars.", now)

	if r.IsEcho("Actually, I just need support.", now) {
		t.Error("structurally different caller speech must never be filtered")
	}
}

func TestEchoRegister_WindowExpiry(t *testing.T) {
	r := newEchoRegister(0.82)
	spoken := time.Now()
	r.Add("Our plans start at thirty dollars.", spoken)

	late := spoken.Add(echoWindow + time.Second)
	if r.IsEcho("our plans start at thirty dollars", late) {
		t.Error("entries outside the window should not match")
	}
}

func TestEchoRegister_BoundedSize(t *testing.T) {
	r := newEchoRegister(0.82)
	now := time.Now()
	for i := 0; i < echoRegisterCap*2; i++ {
		r.Add("sentence number one two three", now)
	}
	r.mu.Lock()
	n := len(r.entries)
	r.mu.Unlock()
	if n > echoRegisterCap {
		t.Errorf("register size = %d, want <= %d", n, echoRegisterCap)
	}
}

func TestNormalizeUtterance(t *testing.T) {
	got := normalizeUtterance("  Hello, World!  It's 30 dollars. ")
	want := "hello world it s 30 dollars"
	if got != want {
		t.Errorf("normalizeUtterance = %q, want %q", got, want)
	}
}
