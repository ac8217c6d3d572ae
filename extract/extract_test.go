package extract

import (
	"errors"
	"reflect"
	"testing"
)

const listingPage = `<!DOCTYPE html>
<html><head><title>Freie Objekte</title><script>var ts = 1712;</script></head>
<body>
<nav><ul><li>Home</li><li>Kontakt</li></ul></nav>
<div id="objects" class="listing">
  <div class="card available"><h3>Top Floor Loft</h3><p>3 Zimmer</p></div>
  <div class="card available"><h3>  Ground
      Floor   Studio </h3><p>1 Zimmer</p></div>
  <div class="card rented"><h3>Garden Flat</h3></div>
</div>
<footer>Updated 10:42</footer>
</body></html>`

func TestExtract_Items(t *testing.T) {
	// WHAT: Items are extracted in document order with whitespace collapsed.
	// WHY: Order is part of the signal; formatting noise is not.
	c, err := Extract([]byte(listingPage), Target{Container: "#objects", Item: ".card h3"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []string{"Top Floor Loft", "Ground Floor Studio", "Garden Flat"}
	if !reflect.DeepEqual(c.Items, want) {
		t.Fatalf("items: got %q, want %q", c.Items, want)
	}
	if got := c.String(); got != "Top Floor Loft\nGround Floor Studio\nGarden Flat" {
		t.Errorf("string: got %q", got)
	}
}

func TestExtract_MultipleClasses(t *testing.T) {
	c, err := Extract([]byte(listingPage), Target{Container: "#objects", Item: ".card.available h3"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []string{"Top Floor Loft", "Ground Floor Studio"}
	if !reflect.DeepEqual(c.Items, want) {
		t.Fatalf("items: got %q, want %q", c.Items, want)
	}
}

func TestExtract_ContainerNotFound(t *testing.T) {
	// WHAT: A missing container is an error, not empty content.
	// WHY: It means the layout changed and the watch is broken.
	_, err := Extract([]byte(listingPage), Target{Container: "#gone", Item: "h3"})
	if !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
	var xe *Error
	if !errors.As(err, &xe) || xe.Kind != ContainerNotFound || xe.Selector != "#gone" {
		t.Fatalf("unexpected error detail: %#v", err)
	}
}

func TestExtract_EmptyContainerIsValid(t *testing.T) {
	// WHAT: A present container with no items yields empty content.
	// WHY: "No open items" is a legitimate state, distinct from a missing container.
	page := `<html><body><ul id="list"></ul></body></html>`
	c, err := Extract([]byte(page), Target{Container: "#list", Item: "li"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if c.Len() != 0 || c.String() != "" {
		t.Fatalf("expected empty content, got %q", c.Items)
	}
}

func TestExtract_WhitespaceInsensitive(t *testing.T) {
	a := `<ul id="l"><li>  Foo   Bar  </li></ul>`
	b := `<ul id="l"><li>Foo Bar</li></ul>`
	ca, err := Extract([]byte(a), Target{Container: "#l", Item: "li"})
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Extract([]byte(b), Target{Container: "#l", Item: "li"})
	if err != nil {
		t.Fatal(err)
	}
	if !ca.Equal(cb) {
		t.Fatalf("expected equal content: %q vs %q", ca.Items, cb.Items)
	}
}

func TestExtract_NBSPAndInlineMarkup(t *testing.T) {
	page := `<ul id="l"><li>Top&nbsp;Floor<br>Loft</li><li>Ga<b>rd</b>en</li><li>   </li></ul>`
	c, err := Extract([]byte(page), Target{Container: "#l", Item: "li"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Top Floor Loft", "Garden"}
	if !reflect.DeepEqual(c.Items, want) {
		t.Fatalf("items: got %q, want %q", c.Items, want)
	}
}

func TestExtract_NFC(t *testing.T) {
	// WHAT: Composed and decomposed forms of the same text are equal.
	// WHY: CMS round-trips sometimes change normalization without a visible change.
	composed := "<ul id=\"l\"><li>Dachgescho\u00df K\u00fcche</li></ul>"
	decomposed := "<ul id=\"l\"><li>Dachgescho\u00df Ku\u0308che</li></ul>"
	ca, _ := Extract([]byte(composed), Target{Container: "#l", Item: "li"})
	cb, _ := Extract([]byte(decomposed), Target{Container: "#l", Item: "li"})
	if !ca.Equal(cb) {
		t.Fatalf("NFC mismatch: %q vs %q", ca.Items, cb.Items)
	}
}

func TestExtract_WholeContainer(t *testing.T) {
	// WHAT: ":scope" and "" make the whole container one item, skipping scripts.
	// WHY: The whole-page variant is a trivial target, not a separate code path.
	for _, item := range []string{"", ScopeItem} {
		c, err := Extract([]byte(listingPage), Target{Container: "body", Item: item})
		if err != nil {
			t.Fatalf("item %q: %v", item, err)
		}
		if c.Len() != 1 {
			t.Fatalf("item %q: expected one item, got %d", item, c.Len())
		}
		want := "Home Kontakt Top Floor Loft 3 Zimmer Ground Floor Studio 1 Zimmer Garden Flat Updated 10:42"
		if c.Items[0] != want {
			t.Errorf("item %q: got %q", item, c.Items[0])
		}
	}
}

func TestExtract_ScriptIgnored(t *testing.T) {
	page := `<div id="c"><p>Offer<script>document.write("x")</script></p><style>p{}</style></div>`
	c, err := Extract([]byte(page), Target{Container: "#c", Item: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Items, []string{"Offer"}) {
		t.Fatalf("got %q", c.Items)
	}
}

func TestExtract_FirstContainerWins(t *testing.T) {
	page := `<ul class="l"><li>A</li></ul><ul class="l"><li>B</li></ul>`
	c, err := Extract([]byte(page), Target{Container: "ul.l", Item: "li"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Items, []string{"A"}) {
		t.Fatalf("got %q", c.Items)
	}
}

func TestExtract_AttributeSelectors(t *testing.T) {
	page := `<table id="t">
<tr data-state="free"><td>1</td></tr>
<tr data-state="rented"><td>2</td></tr>
<tr data-state='free'><td>3</td></tr>
<tr><td>4</td></tr></table>`
	tests := []struct {
		item string
		want []string
	}{
		{"tr[data-state]", []string{"1", "2", "3"}},
		{"tr[data-state=free]", []string{"1", "3"}},
		{"tr[data-state='rented'] td", []string{"2"}},
		{"td, tr[data-state=rented]", []string{"1", "2", "2", "3", "4"}},
	}
	for _, tt := range tests {
		c, err := Extract([]byte(page), Target{Container: "#t", Item: tt.item})
		if err != nil {
			t.Fatalf("%s: %v", tt.item, err)
		}
		if !reflect.DeepEqual(c.Items, tt.want) {
			t.Errorf("%s: got %q, want %q", tt.item, c.Items, tt.want)
		}
	}
}

func TestExtract_AncestorsAboveContainerMatch(t *testing.T) {
	// WHAT: Ancestor compounds may match above the container, as with querySelectorAll.
	// WHY: ".outer p" must not silently yield zero items when .outer wraps the container.
	page := `<section class="outer"><div id="c"><p>in</p></div><p>out</p></section>`
	for _, item := range []string{".outer p", "section div p", "div p"} {
		c, err := Extract([]byte(page), Target{Container: "#c", Item: item})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(c.Items, []string{"in"}) {
			t.Fatalf("%q: expected [in], got %q", item, c.Items)
		}
	}
}

func TestExtract_QuotedAttributeValues(t *testing.T) {
	// WHAT: Spaces and commas inside quoted attribute values are part of the value.
	// WHY: Splitting on them produced broken compounds or spurious selector groups.
	page := `<ul id="o">
<li data-state="for rent">A</li>
<li data-state="sold">B</li>
<li title="a,b">C</li>
<li title='x]y'>D</li>
</ul>`
	cases := []struct {
		item string
		want []string
	}{
		{`li[data-state="for rent"]`, []string{"A"}},
		{`li[data-state='for rent']`, []string{"A"}},
		{`li[title="a,b"]`, []string{"C"}},
		{`li[title="a,b"], li[data-state=sold]`, []string{"B", "C"}},
		{`ul li[title='x]y']`, []string{"D"}},
	}
	for _, tc := range cases {
		c, err := Extract([]byte(page), Target{Container: "#o", Item: tc.item})
		if err != nil {
			t.Fatalf("%q: %v", tc.item, err)
		}
		if !reflect.DeepEqual(c.Items, tc.want) {
			t.Errorf("%q: got %q, want %q", tc.item, c.Items, tc.want)
		}
	}
	if _, err := ParseSelector(`li[title="a,b]`); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("unterminated quote: expected ErrInvalidSelector, got %v", err)
	}
}

func TestExtract_InvalidSelector(t *testing.T) {
	for _, sel := range []string{"ul > li", "li:first-child", "div[", ".", "a,,b", ""} {
		_, err := Extract([]byte(listingPage), Target{Container: "body", Item: sel + " x"})
		if sel == "" {
			_, err = Extract([]byte(listingPage), Target{Container: sel, Item: "li"})
		}
		if !errors.Is(err, ErrInvalidSelector) {
			t.Errorf("%q: expected ErrInvalidSelector, got %v", sel, err)
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	x, err := New(Target{Container: "#objects", Item: ".card h3"})
	if err != nil {
		t.Fatal(err)
	}
	first, _ := x.Extract([]byte(listingPage))
	for i := 0; i < 20; i++ {
		again, err := x.Extract([]byte(listingPage))
		if err != nil {
			t.Fatal(err)
		}
		if again.String() != first.String() {
			t.Fatalf("run %d differs: %q vs %q", i, again.String(), first.String())
		}
	}
}

func TestExcerpt(t *testing.T) {
	x, err := New(Target{Container: "#l", Item: "li"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := x.Excerpt([]byte(`<body><ul id="l"><li>A</li></ul></body>`))
	if err != nil {
		t.Fatal(err)
	}
	if got != `<ul id="l"><li>A</li></ul>` {
		t.Fatalf("excerpt: got %q", got)
	}
	if _, err := x.Excerpt([]byte(`<p>none</p>`)); !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Foo   Bar  ":             "Foo Bar",
		"a\n\t b":                   "a b",
		"\u00a0x\u00a0\u00a0y\u00a0": "x y",
		"":                          "",
		"Mixed CASE":                "Mixed CASE",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
