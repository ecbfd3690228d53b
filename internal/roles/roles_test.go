package roles

import "testing"

func TestNormalize(t *testing.T) {
	if Normalize("counselor") != RoleCounselor {
		t.Error("counselor should normalize to itself")
	}
	if Normalize("student") != RoleStudent {
		t.Error("student should normalize to itself")
	}
	if Normalize("janitor") != RoleStudent {
		t.Error("unknown roles should normalize to student")
	}
}

func TestKnown(t *testing.T) {
	if !Known("student") || !Known("counselor") {
		t.Error("platform roles must be known")
	}
	if Known("admin") || Known("") {
		t.Error("unexpected role reported as known")
	}
}

func TestCan(t *testing.T) {
	if !Can(RoleStudent, ActionChat) || !Can(RoleCounselor, ActionChat) {
		t.Error("both roles may chat")
	}
	if Can(RoleStudent, ActionViewRoster) {
		t.Error("students may not view rosters")
	}
	if !Can(RoleCounselor, ActionViewRoster) {
		t.Error("counselors may view rosters")
	}
	if Can(Role("other"), ActionChat) {
		t.Error("unknown roles may do nothing")
	}
}
