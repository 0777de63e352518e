package types

import "testing"

func TestNewTurn_Roles(t *testing.T) {
	t.Parallel()

	u := NewUserTurn("what is justice?")
	if u.Role != RoleUser {
		t.Fatalf("expected user role, got %s", u.Role)
	}
	if u.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}

	a := NewAssistantTurn("justice is the harmony of the soul")
	if a.Role != RoleAssistant {
		t.Fatalf("expected assistant role, got %s", a.Role)
	}
	if a.Truncated {
		t.Fatal("fresh turn must not be truncated")
	}
}

func TestInterjectTarget_Valid(t *testing.T) {
	t.Parallel()

	for _, target := range []InterjectTarget{TargetA, TargetB, TargetBoth} {
		if !target.Valid() {
			t.Errorf("expected %q to be valid", target)
		}
	}
	if InterjectTarget("moderator").Valid() {
		t.Error("unexpected valid target")
	}
}

func TestGenParams_Merge(t *testing.T) {
	t.Parallel()

	base := GenParams{MaxTokens: 2048, Temperature: 0.7}

	if got := base.Merge(nil); got.MaxTokens != 2048 || got.Temperature != 0.7 {
		t.Fatalf("nil override must return base, got %+v", got)
	}

	merged := base.Merge(&GenParams{Temperature: 0.2, TopP: 0.9})
	if merged.MaxTokens != 2048 {
		t.Errorf("expected base max tokens kept, got %d", merged.MaxTokens)
	}
	if merged.Temperature != 0.2 {
		t.Errorf("expected override temperature, got %f", merged.Temperature)
	}
	if merged.TopP != 0.9 {
		t.Errorf("expected override top_p, got %f", merged.TopP)
	}
}
