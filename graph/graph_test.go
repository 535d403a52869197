package graph

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/resolver"
)

func testResult(t *testing.T, cidr string, paths, guessed []resolver.Path) *resolver.Result {
	t.Helper()
	prefix, err := datastore.ParsePrefix(cidr)
	if err != nil {
		t.Fatal(err)
	}
	return &resolver.Result{Prefix: prefix, Paths: paths, Guessed: guessed}
}

var nodeRx = regexp.MustCompile(`node \[([^\]]*)\]; (n\d+);`)

// nodeAttrs returns the attribute list of the node with the given
// label, or ok=false if the node does not exist. Nodes render under
// generated identifiers, so they are found by label.
func nodeAttrs(out, label string) (string, bool) {
	for _, m := range nodeRx.FindAllStringSubmatch(out, -1) {
		if strings.Contains(m[1], fmt.Sprintf("label=%q", label)) {
			return m[1], true
		}
	}
	return "", false
}

func nodeID(t *testing.T, out, label string) string {
	t.Helper()
	for _, m := range nodeRx.FindAllStringSubmatch(out, -1) {
		if strings.Contains(m[1], fmt.Sprintf("label=%q", label)) {
			return m[2]
		}
	}
	t.Fatalf("node labeled %q not found in:\n%s", label, out)
	return ""
}

// edgeAttrs returns the attribute list of the edge between the nodes
// with the given labels, or ok=false if there is no such edge.
func edgeAttrs(t *testing.T, out, from, to string) (string, bool) {
	t.Helper()
	rx := regexp.MustCompile(
		regexp.QuoteMeta(nodeID(t, out, from)) + ` -> ` + regexp.QuoteMeta(nodeID(t, out, to)) + `(?:\s*\[([^\]]*)\])?;`)
	m := rx.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func TestBuild(t *testing.T) {
	result := testResult(t, "10.0.0.0/24",
		[]resolver.Path{{100, 200, 300}},
		[]resolver.Path{{400, 200, 250, 300}})
	out := Build([]uint32{100, 400}, result, Options{}).String()

	if !strings.Contains(out, `rankdir="LR"`) {
		t.Errorf("missing rankdir attribute in:\n%s", out)
	}

	attrs, ok := nodeAttrs(out, "10.0.0.0/24")
	if !ok || !strings.Contains(attrs, `color="green"`) {
		t.Errorf("destination node not green: %q", attrs)
	}
	for _, source := range []string{"AS100", "AS400"} {
		attrs, ok := nodeAttrs(out, source)
		if !ok || !strings.Contains(attrs, `color="blue"`) {
			t.Errorf("source node %s not blue: %q", source, attrs)
		}
	}
	if attrs, _ := nodeAttrs(out, "AS200"); strings.Contains(attrs, "blue") {
		t.Errorf("AS200 is not a source, got %q", attrs)
	}

	for _, e := range [][2]string{{"AS100", "AS200"}, {"AS200", "AS300"}, {"AS300", "10.0.0.0/24"}} {
		attrs, ok := edgeAttrs(t, out, e[0], e[1])
		if !ok {
			t.Errorf("missing confirmed edge %s -> %s in:\n%s", e[0], e[1], out)
		}
		if strings.Contains(attrs, "dashed") {
			t.Errorf("confirmed edge %s -> %s is dashed", e[0], e[1])
		}
	}

	attrs, ok = edgeAttrs(t, out, "AS400", "AS200")
	if !ok {
		t.Fatalf("missing guessed edge AS400 -> AS200 in:\n%s", out)
	}
	if !strings.Contains(attrs, `style="dashed"`) || !strings.Contains(attrs, `color="grey"`) {
		t.Errorf("guessed edge attrs = %q, expected dashed grey", attrs)
	}

	// The guessed path stops at AS200, which an observed path already
	// reached: nothing beyond it is drawn.
	if _, ok := nodeAttrs(out, "AS250"); ok {
		t.Errorf("guessed path should stop at AS200, found AS250 in:\n%s", out)
	}
}

func TestBuild_EdgeDedup(t *testing.T) {
	result := testResult(t, "10.0.0.0/24",
		[]resolver.Path{{100, 200, 300}, {150, 200, 300}}, nil)
	out := Build([]uint32{100, 150}, result, Options{}).String()

	shared := regexp.QuoteMeta(nodeID(t, out, "AS200")) + ` -> ` + regexp.QuoteMeta(nodeID(t, out, "AS300"))
	if n := len(regexp.MustCompile(shared).FindAllString(out, -1)); n != 1 {
		t.Errorf("shared edge AS200 -> AS300 drawn %d times in:\n%s", n, out)
	}
}

func TestBuild_OriginColors(t *testing.T) {
	entry := datastore.ROAEntry{MaxLength: 24, ASN: 300}

	for _, td := range []struct {
		name         string
		validOrigins map[uint32][]datastore.ROAEntry
		expected     string
	}{
		{"authorized", map[uint32][]datastore.ROAEntry{300: {entry}}, `color="green"`},
		{"unauthorized", map[uint32][]datastore.ROAEntry{999: {entry}}, `color="red"`},
		{"unknown", map[uint32][]datastore.ROAEntry{}, `color="orange"`},
	} {
		t.Run(td.name, func(t *testing.T) {
			result := testResult(t, "10.0.0.0/24", []resolver.Path{{100, 200, 300}}, nil)
			out := Build([]uint32{100}, result, Options{ValidOrigins: td.validOrigins}).String()

			attrs, ok := edgeAttrs(t, out, "AS300", "10.0.0.0/24")
			if !ok {
				t.Fatalf("missing origin edge in:\n%s", out)
			}
			if !strings.Contains(attrs, td.expected) {
				t.Errorf("origin edge attrs = %q, expected %s", attrs, td.expected)
			}

			// Transit edges never carry a verdict.
			if attrs, _ := edgeAttrs(t, out, "AS100", "AS200"); strings.Contains(attrs, "color") {
				t.Errorf("unexpected color on transit edge: %q", attrs)
			}
		})
	}
}

func TestBuild_Hyperlinks(t *testing.T) {
	result := testResult(t, "10.0.0.0/24", []resolver.Path{{100, 300}}, nil)
	out := Build([]uint32{100}, result, Options{LinkBase: "https://nav.example.org/"}).String()

	attrs, ok := nodeAttrs(out, "AS100")
	if !ok || !strings.Contains(attrs, `URL="https://nav.example.org/asn/100"`) {
		t.Errorf("AS100 node attrs = %q, expected frontend URL", attrs)
	}
	attrs, ok = nodeAttrs(out, "10.0.0.0/24")
	if !ok || !strings.Contains(attrs, `URL="https://nav.example.org/?ip_prefix=10.0.0.0%2F24"`) {
		t.Errorf("destination node attrs = %q, expected frontend URL", attrs)
	}
	if attrs, _ := edgeAttrs(t, out, "AS100", "AS300"); !strings.Contains(attrs, `URL=`) {
		t.Errorf("edge attrs = %q, expected frontend URL", attrs)
	}
}

func TestBuild_RepeatedHops(t *testing.T) {
	// Path prepending repeats hops; they must not produce self-loops.
	result := testResult(t, "10.0.0.0/24", []resolver.Path{{100, 100, 300}}, nil)
	out := Build([]uint32{100}, result, Options{}).String()

	self := regexp.QuoteMeta(nodeID(t, out, "AS100"))
	if regexp.MustCompile(self + ` -> ` + self + `\b`).MatchString(out) {
		t.Errorf("self-loop drawn in:\n%s", out)
	}
	if _, ok := edgeAttrs(t, out, "AS100", "AS300"); !ok {
		t.Errorf("missing edge AS100 -> AS300 in:\n%s", out)
	}
}
