package security

import "testing"

func TestAssessRiskBaseTier(t *testing.T) {
	a := AssessRisk("read_file", nil, false, nil)
	if a.Tier != T0 || a.Escalated {
		t.Errorf("got %+v, want T0 unescalated", a)
	}
}

func TestAssessRiskDangerousFlagEscalates(t *testing.T) {
	a := AssessRisk("exec_git", []string{"--force"}, false, nil)
	if a.Tier != T2 || !a.Escalated {
		t.Errorf("got %+v, want T2 escalated", a)
	}
}

func TestAssessRiskRemoteOriginEscalates(t *testing.T) {
	a := AssessRisk("write_file", nil, true, nil)
	if a.Tier != T2 || !a.Escalated {
		t.Errorf("got %+v, want T1 base escalated to T2", a)
	}
}

func TestAssessRiskCapsAtT2(t *testing.T) {
	a := AssessRisk("run_command", []string{"--force"}, true, []InjectionMatch{{Pattern: "x", Excerpt: "x"}})
	if a.Tier != T2 {
		t.Errorf("tier = %v, want capped at T2", a.Tier)
	}
}

func TestAssessRiskUnknownToolDefaultsT1(t *testing.T) {
	a := AssessRisk("some_unregistered_tool", nil, false, nil)
	if a.Tier != T1 {
		t.Errorf("tier = %v, want T1 default", a.Tier)
	}
}
