package module

import (
	"strings"
	"testing"
)

func TestParseProp(t *testing.T) {
	in := strings.NewReader(`# systemless hosts
id=adblock
name=Ad Blocker
version=v2.1
versionCode=210

author=jane
description=replaces /system/etc/hosts
ignored line without equals
`)
	p, err := ParseProp(in)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "adblock" || p.Name != "Ad Blocker" || p.Version != "v2.1" {
		t.Fatalf("prop = %+v", p)
	}
	if p.VersionCode != 210 {
		t.Fatalf("versionCode = %d", p.VersionCode)
	}
	if p.Author != "jane" || p.Description == "" {
		t.Fatalf("prop = %+v", p)
	}
}

func TestParsePropCRLF(t *testing.T) {
	p, err := ParseProp(strings.NewReader("id=win\r\nname=Windows Zip\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "win" || p.Name != "Windows Zip" {
		t.Fatalf("prop = %+v", p)
	}
}

func TestParsePropRejects(t *testing.T) {
	cases := []string{
		"name=no id here\n",
		"id=.hidden\n",
		"id=9starts-with-digit\n",
		"id=sp ace\n",
		"id=x\n", // single-char ids are too short
	}
	for _, in := range cases {
		if _, err := ParseProp(strings.NewReader(in)); err == nil {
			t.Errorf("ParseProp(%q) accepted", in)
		}
	}
}

func TestValidID(t *testing.T) {
	good := []string{"adblock", "a1", "My.Module_v2-final"}
	bad := []string{"", "a", "1abc", ".dot", "has space", "sub/dir", "..", "a$b"}
	for _, id := range good {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false", id)
		}
	}
	for _, id := range bad {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
	}
}
