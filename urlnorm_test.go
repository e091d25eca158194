package abctrawl

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://Example.com/Path#frag", "http://example.com/Path"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
	}
	for _, c := range cases {
		got, err := NormalizeURL(c.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractHost(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://www.example.com/a", "example.com"},
		{"http://example.co.uk:8080/a", "example.co.uk"},
	}
	for _, c := range cases {
		got, err := ExtractHost(c.in)
		if err != nil {
			t.Fatalf("ExtractHost(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ExtractHost(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractHostNoHost(t *testing.T) {
	if _, err := ExtractHost("/just/a/path"); err == nil {
		t.Error("expected error for url with no host")
	}
}

func TestURLExtension(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://example.com/tune.abc", ".abc"},
		{"http://example.com/tune.ABC", ".abc"},
		{"http://example.com/index.html", ".html"},
		{"http://example.com/", ""},
	}
	for _, c := range cases {
		if got := URLExtension(c.in); got != c.want {
			t.Errorf("URLExtension(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
