package converter

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"

	"github.com/pagemill/api/internal/client"
	"github.com/pagemill/api/internal/model"
)

const engineName = "fitz"

// FitzConverter converts documents with MuPDF: native text extraction per
// page, OCR through the model cache for pages without a text layer (or
// when forced), and PNG page images uploaded to the asset store when
// extraction is requested.
type FitzConverter struct {
	storage client.StorageClient // nil disables asset extraction
}

// NewFitzConverter creates the built-in converter. storage may be nil.
func NewFitzConverter(storage client.StorageClient) *FitzConverter {
	return &FitzConverter{storage: storage}
}

func (f *FitzConverter) Convert(ctx context.Context, payload *model.ConvertPayload, cache *ModelCache) (result *model.ConversionResult, retErr error) {
	start := time.Now()

	doc, err := fitz.NewFromMemory(payload.Document)
	if err != nil {
		return nil, Errorf(model.ErrKindConversion, "failed to open %s: %v", payload.Filename, err)
	}
	defer doc.Close()

	pages, err := parsePageRange(payload.Options.PageRange, doc.NumPage())
	if err != nil {
		return nil, Errorf(model.ErrKindConversion, "invalid page range %q: %v", payload.Options.PageRange, err)
	}

	docID := uuid.New().String()
	var sb strings.Builder
	var assets []model.Asset
	var assetKeys []string
	ocrPages := 0

	// A conversion that fails after uploading assets must not leave
	// orphans in the bucket.
	defer func() {
		if retErr != nil {
			f.cleanup(assetKeys)
		}
	}()

	for i, pageNum := range pages {
		// The hard execution timeout arrives through ctx.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			return nil, Errorf(model.ErrKindConversion, "failed to read page %d: %v", pageNum+1, err)
		}
		text = strings.TrimSpace(text)

		if payload.Options.ForceOCR || (text == "" && cache.OCREnabled()) {
			img, err := f.renderPNG(doc, pageNum)
			if err != nil {
				return nil, err
			}
			runOCR := payload.Options.ForceOCR
			if !runOCR {
				// A page with no text layer and no detected regions is
				// blank; skip the OCR round trip.
				blocks, err := cache.DetectLayout(ctx, img)
				if err != nil {
					return nil, err
				}
				runOCR = len(blocks) > 0
			}
			if runOCR {
				text, err = cache.RecognizePage(ctx, img, payload.Options.Languages)
				if err != nil {
					return nil, err
				}
				text = strings.TrimSpace(text)
				ocrPages++
			}
		}

		if i > 0 {
			if payload.Options.Paginate {
				sb.WriteString("\n\n---\n\n")
			} else {
				sb.WriteString("\n\n")
			}
		}
		sb.WriteString(renderPage(text, payload.Options.OutputFormat))

		if payload.Options.ExtractImages && f.storage != nil {
			img, err := f.renderPNG(doc, pageNum)
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf("page-%d.png", pageNum+1)
			key := fmt.Sprintf("assets/%s/%s", docID, name)
			url, err := f.storage.Upload(ctx, key, bytes.NewReader(img), "image/png")
			if err != nil {
				return nil, Errorf(model.ErrKindConversion, "failed to store asset %s: %v", name, err)
			}
			assets = append(assets, model.Asset{Name: name, ContentType: "image/png", URL: url})
			assetKeys = append(assetKeys, key)
		}
	}

	return &model.ConversionResult{
		Markdown: sb.String(),
		Assets:   assets,
		Meta: model.ConversionMeta{
			PageCount:  len(pages),
			OCRPages:   ocrPages,
			Engine:     engineName,
			DurationMS: time.Since(start).Milliseconds(),
		},
	}, nil
}

// cleanup removes assets uploaded before a failed conversion. Best
// effort: the failure already classified, a leftover object only costs
// storage.
func (f *FitzConverter) cleanup(keys []string) {
	if f.storage == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := f.storage.Delete(ctx, key); err != nil {
			log.Printf("Failed to delete orphaned asset %s: %v", key, err)
		}
	}
}

func (f *FitzConverter) renderPNG(doc *fitz.Document, page int) ([]byte, error) {
	img, err := doc.Image(page)
	if err != nil {
		return nil, Errorf(model.ErrKindConversion, "failed to render page %d: %v", page+1, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, Errorf(model.ErrKindConversion, "failed to encode page %d: %v", page+1, err)
	}
	return buf.Bytes(), nil
}
