package main

import "testing"

func TestParsePose(t *testing.T) {
	p, err := parsePose("150, 0, 50")
	if err != nil {
		t.Fatal(err)
	}
	if p.Position.X != 150 || p.Position.Z != 50 || p.Pitch != nil {
		t.Errorf("pose = %+v", p)
	}
	p, err = parsePose("100,20,30,-45")
	if err != nil || p.Pitch == nil || *p.Pitch != -45 {
		t.Errorf("pose with pitch = %+v, %v", p, err)
	}
	for _, bad := range []string{"", "1,2", "1,2,x", "1,2,3,4,5"} {
		if _, err := parsePose(bad); err == nil {
			t.Errorf("parsePose(%q) accepted", bad)
		}
	}
}
