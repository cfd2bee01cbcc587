package source

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

const containerPath = "META-INF/container.xml"

var ErrNoChapters = errors.New("no chapters found in epub")

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Items []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
	ItemRefs []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// Book is an opened EPUB whose chapters are decompressed on demand.
type Book struct {
	zr       *zip.ReadCloser
	files    map[string]*zip.File
	chapters []string
}

// OpenEPUB reads the container and package documents of the EPUB at path and
// resolves the spine to XHTML chapters in reading order. Navigation documents
// are left out.
func OpenEPUB(path string) (*Book, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	book := &Book{zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		book.files[f.Name] = f
	}
	if err := book.loadSpine(); err != nil {
		zr.Close()
		return nil, err
	}
	return book, nil
}

func (b *Book) loadSpine() error {
	raw, ok, err := b.read(containerPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", containerPath, err)
	}
	if !ok {
		return errors.New("invalid epub: missing " + containerPath)
	}
	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil {
		return fmt.Errorf("invalid epub: parse container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 {
		return errors.New("invalid epub: no rootfile in container.xml")
	}
	opfPath := container.Rootfiles[0].FullPath

	raw, ok, err = b.read(opfPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", opfPath, err)
	}
	if !ok {
		return fmt.Errorf("invalid epub: missing %s", opfPath)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return fmt.Errorf("invalid epub: parse %s: %w", opfPath, err)
	}

	dir := path.Dir(opfPath)
	manifest := make(map[string]string)
	for _, item := range pkg.Items {
		if item.MediaType == "application/xhtml+xml" && !strings.Contains(item.Properties, "nav") {
			manifest[item.ID] = resolveHref(dir, item.Href)
		}
	}
	for _, ref := range pkg.ItemRefs {
		if href, ok := manifest[ref.IDRef]; ok {
			b.chapters = append(b.chapters, href)
		}
	}
	if len(b.chapters) == 0 {
		return ErrNoChapters
	}
	return nil
}

// resolveHref maps a manifest href, relative to the package document's
// directory and percent-encoded, to a zip entry name.
func resolveHref(dir, href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return path.Join(dir, href)
}

// Len is the number of chapters in the spine.
func (b *Book) Len() int { return len(b.chapters) }

// ChapterText returns the plain text of chapter i (0-based). A chapter listed
// in the spine but missing from the archive reads as empty.
func (b *Book) ChapterText(i int) (string, error) {
	if i < 0 || i >= len(b.chapters) {
		return "", fmt.Errorf("chapter %d is out of range (total: %d)", i+1, len(b.chapters))
	}
	raw, ok, err := b.read(b.chapters[i])
	if err != nil {
		return "", fmt.Errorf("read chapter %d: %w", i+1, err)
	}
	if !ok {
		return "", nil
	}
	return StripHTML(raw), nil
}

// Chapters resolves a selection ("" means every chapter) to 0-based indices.
func (b *Book) Chapters(selection string) ([]int, error) {
	if selection == "" {
		return allIndices(len(b.chapters)), nil
	}
	return ParseSelection(selection, len(b.chapters), "chapter")
}

func (b *Book) Close() error {
	return b.zr.Close()
}

func (b *Book) read(name string) ([]byte, bool, error) {
	f, ok := b.files[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, true, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}
