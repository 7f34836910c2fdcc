package matching

import (
	"reflect"
	"testing"
)

func TestRelevant_EmptySpecializationsAcceptEverything(t *testing.T) {
	for _, category := range []string{"Tax", "family", "Criminal Defense", "", "  "} {
		if !Relevant(nil, category) {
			t.Errorf("expected nil specializations to accept %q", category)
		}
		if !Relevant([]string{"", "  "}, category) {
			t.Errorf("expected blank specializations to accept %q", category)
		}
	}
}

func TestRelevant_EmptyCategoryAlwaysRelevant(t *testing.T) {
	if !Relevant([]string{"Family Law"}, "") {
		t.Fatal("expected empty category to be relevant")
	}
}

func TestRelevant_CaseInsensitiveSubstring(t *testing.T) {
	specs := []string{"Family Law"}
	if !Relevant(specs, "family") {
		t.Fatal("expected family to match Family Law")
	}
	if Relevant(specs, "Tax") {
		t.Fatal("expected Tax to be rejected for Family Law")
	}
}

func TestRelevant_SerializedSetMatching(t *testing.T) {
	specs := []string{"family", "civil"}
	if !Relevant(specs, "Family") {
		t.Fatal("expected Family to match family, civil")
	}
	if !Relevant(specs, "CIVIL") {
		t.Fatal("expected CIVIL to match family, civil")
	}
	if Relevant(specs, "Immigration") {
		t.Fatal("expected Immigration to be rejected")
	}
}

func TestRelevant_KeepsLooseAdjacentTermMatch(t *testing.T) {
	if !Relevant([]string{"Taxonomy Consulting"}, "Tax") {
		t.Fatal("expected substring heuristic to accept Tax for Taxonomy Consulting")
	}
}

func TestParseAndSerialize(t *testing.T) {
	parts := Parse(" family , civil,, ")
	if !reflect.DeepEqual(parts, []string{"family", "civil"}) {
		t.Fatalf("unexpected parse result: %#v", parts)
	}
	if got := Serialize(parts); got != "family, civil" {
		t.Fatalf("expected %q, got %q", "family, civil", got)
	}
	if Parse("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
