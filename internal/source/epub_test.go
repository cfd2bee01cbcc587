package source

import (
	"archive/zip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="css" href="style.css" media-type="text/css"/>
    <item id="c1" href="text/one.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/two.xhtml" media-type="application/xhtml+xml"/>
    <item id="c3" href="text/missing.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="nav"/>
    <itemref idref="c2"/>
    <itemref idref="c1"/>
    <itemref idref="c3"/>
  </spine>
</package>`

func writeEPUB(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	zw := zip.NewWriter(out)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestOpenEPUBFollowsSpine(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/nav.xhtml":        `<html><body><nav>Contents</nav></body></html>`,
		"OEBPS/text/one.xhtml":   `<html><body><p>First chapter.</p><p>Second paragraph.</p></body></html>`,
		"OEBPS/text/two.xhtml":   `<html><body><h1>Prologue</h1></body></html>`,
	})

	book, err := OpenEPUB(path)
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer book.Close()

	if book.Len() != 3 {
		t.Fatalf("expected 3 chapters without nav, got %d", book.Len())
	}
	first, err := book.ChapterText(0)
	if err != nil || first != "Prologue" {
		t.Fatalf("expected spine order, got %q, %v", first, err)
	}
	second, err := book.ChapterText(1)
	if err != nil {
		t.Fatalf("ChapterText: %v", err)
	}
	if got := SplitParagraphs(second); !reflect.DeepEqual(got, []string{"First chapter.", "Second paragraph."}) {
		t.Fatalf("unexpected paragraphs %v", got)
	}
	missing, err := book.ChapterText(2)
	if err != nil || missing != "" {
		t.Fatalf("expected missing chapter to read empty, got %q, %v", missing, err)
	}
	if _, err := book.ChapterText(3); err == nil {
		t.Fatalf("expected out of range error")
	}

	idx, err := book.Chapters("")
	if err != nil || !reflect.DeepEqual(idx, []int{0, 1, 2}) {
		t.Fatalf("expected all chapters, got %v, %v", idx, err)
	}
	idx, err = book.Chapters("3,1")
	if err != nil || !reflect.DeepEqual(idx, []int{2, 0}) {
		t.Fatalf("expected selected chapters, got %v, %v", idx, err)
	}
	if _, err := book.Chapters("4"); err == nil || err.Error() != "chapter 4 is out of range (total: 3)" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOpenEPUBResolvesRelativeAndEscapedHrefs(t *testing.T) {
	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="c1" href="../Text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="Chapter%202.xhtml#start" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`
	container := strings.Replace(testContainer, "OEBPS/content.opf", "OEBPS/pkg/content.opf", 1)
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml":    container,
		"OEBPS/pkg/content.opf":     opf,
		"OEBPS/Text/ch1.xhtml":      `<html><body><p>Up one level.</p></body></html>`,
		"OEBPS/pkg/Chapter 2.xhtml": `<html><body><p>With a space.</p></body></html>`,
	})

	book, err := OpenEPUB(path)
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer book.Close()

	for i, want := range []string{"Up one level.", "With a space."} {
		got, err := book.ChapterText(i)
		if err != nil || got != want {
			t.Fatalf("chapter %d: expected %q, got %q, %v", i+1, want, got, err)
		}
	}
}

func TestOpenEPUBErrors(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "no container",
			files: map[string]string{"mimetype": "application/epub+zip"},
			want:  "invalid epub: missing META-INF/container.xml",
		},
		{
			name:  "no rootfile",
			files: map[string]string{"META-INF/container.xml": `<container><rootfiles></rootfiles></container>`},
			want:  "invalid epub: no rootfile in container.xml",
		},
		{
			name:  "no opf",
			files: map[string]string{"META-INF/container.xml": testContainer},
			want:  "invalid epub: missing OEBPS/content.opf",
		},
		{
			name: "no chapters",
			files: map[string]string{
				"META-INF/container.xml": testContainer,
				"OEBPS/content.opf":      `<package><manifest></manifest><spine></spine></package>`,
			},
			want: "no chapters found in epub",
		},
	}
	for _, tc := range cases {
		_, err := OpenEPUB(writeEPUB(t, tc.files))
		if err == nil || err.Error() != tc.want {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestOpenEPUBNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	if err := os.WriteFile(path, []byte("plain text"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := OpenEPUB(path)
	if err == nil || !strings.HasPrefix(err.Error(), "failed to open epub") {
		t.Fatalf("expected open failure, got %v", err)
	}
}
