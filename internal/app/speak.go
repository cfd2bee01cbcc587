package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/reed/internal/playback"
	"github.com/loqalabs/reed/internal/source"
)

// speak starts speaking text and returns without waiting for playback. In
// output mode it writes the WAV file and blocks until piper is done.
func (a *app) speak(ctx context.Context, text string) error {
	if a.speech.Output != "" {
		return a.save(ctx, text)
	}
	a.controller.Play(text, a.speech)
	return nil
}

func (a *app) save(ctx context.Context, text string) error {
	a.printer.Emit(playback.Status{Kind: playback.KindGenerating})
	elapsed, err := a.piper.SaveToFile(ctx, text, a.speech)
	if err != nil {
		return err
	}
	a.printer.Println("")
	a.printer.Success(fmt.Sprintf("Done in %.1fs", elapsed.Seconds()))
	a.printer.Saved(a.speech.Output)
	return nil
}

// speakAndWait speaks text and blocks until the session ends. Cancelling ctx
// stops playback and returns ctx.Err().
func (a *app) speakAndWait(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.speech.Output != "" {
		return a.save(ctx, text)
	}

	a.controller.Play(text, a.speech)
	done := make(chan struct{})
	go func() {
		a.controller.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.controller.Stop()
		<-done
		return ctx.Err()
	}
	if err := a.controller.Err(); err != nil {
		return errReported{err}
	}
	return nil
}

func (a *app) readText(ctx context.Context) error {
	acq := &source.Acquirer{Runner: a.runner, Clipboard: a.clipboard()}
	text, err := acq.Text(ctx, source.Request{
		Clipboard: a.opts.Clipboard,
		File:      a.opts.File,
		Args:      a.opts.Text,
		Stdin:     a.env.Stdin,
		StdinTTY:  a.env.StdinTTY,
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errNoText
	}
	return a.speakAndWait(ctx, text)
}

func (a *app) readPDF(ctx context.Context) error {
	return source.EachPDFPage(a.opts.File, a.opts.Pages, func(p source.Page) error {
		a.printer.Heading(fmt.Sprintf("📄 Page %d/%d", p.Number, p.Total))
		return a.speakAndWait(ctx, p.Text)
	})
}

// readEPUB speaks the selected chapters paragraph by paragraph. A chapter
// without text hands over to the next chapter that has some and has not been
// spoken yet.
func (a *app) readEPUB(ctx context.Context) error {
	book, err := source.OpenEPUB(a.opts.File)
	if err != nil {
		return err
	}
	defer book.Close()

	indices, err := book.Chapters(a.opts.Pages)
	if err != nil {
		return err
	}
	total := book.Len()
	spoken := make(map[int]bool)

	for _, i := range indices {
		if spoken[i] {
			continue
		}
		text, err := book.ChapterText(i)
		if err != nil {
			return err
		}
		if text != "" {
			spoken[i] = true
			if err := a.speakChapter(ctx, i, total, text); err != nil {
				return err
			}
			continue
		}

		next, nextText, err := nextChapterWithText(book, i+1, spoken)
		if err != nil {
			return err
		}
		a.printer.Println("")
		if next < 0 {
			a.printer.Notice(fmt.Sprintf("⏭ Chapter %d/%d has no text (no subsequent chapter with text found)", i+1, total))
			continue
		}
		spoken[next] = true
		a.printer.Notice(fmt.Sprintf("⏭ Chapter %d/%d has no text, skipping to chapter %d", i+1, total, next+1))
		if err := a.speakChapter(ctx, next, total, nextText); err != nil {
			return err
		}
	}
	return nil
}

func nextChapterWithText(book *source.Book, from int, spoken map[int]bool) (int, string, error) {
	for j := from; j < book.Len(); j++ {
		if spoken[j] {
			continue
		}
		text, err := book.ChapterText(j)
		if err != nil {
			return -1, "", err
		}
		if text != "" {
			return j, text, nil
		}
	}
	return -1, "", nil
}

func (a *app) speakChapter(ctx context.Context, i, total int, text string) error {
	a.printer.Heading(fmt.Sprintf("📖 Chapter %d/%d", i+1, total))
	for _, para := range source.SplitParagraphs(text) {
		if err := a.speakAndWait(ctx, para); err != nil {
			return err
		}
	}
	return nil
}

// exitCode reports err to the user and maps it to a process exit code.
func (a *app) exitCode(ctx context.Context, err error) int {
	if ctx.Err() != nil {
		return ExitInterrupted
	}
	if err == nil {
		return 0
	}
	var reported errReported
	if !errors.As(err, &reported) {
		a.printer.Error(err.Error())
	}
	return 1
}

func (a *app) clipboard() source.ClipboardResolver {
	if a.env.Clipboard != nil {
		return a.env.Clipboard
	}
	return a.resolver
}
