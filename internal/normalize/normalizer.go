package normalize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"

	"github.com/repliahq/replia/internal/business"
)

const (
	imagePrefix    = "[Imagen]: "
	documentPrefix = "[Documento]: "

	apologyAudio    = "Lo siento, no pude procesar tu mensaje de voz. ¿Podrías escribirme tu consulta?"
	apologyImage    = "Lo siento, no pude procesar la imagen que enviaste. ¿Podrías contarme tu consulta en texto?"
	apologyDocument = "Lo siento, no pude leer el documento que enviaste. ¿Podrías contarme tu consulta en texto?"
)

// Normalizer turns audio, image, and document messages into text. Each
// branch degrades to a fixed apology instead of propagating failures.
type Normalizer struct {
	fetcher     MediaFetcher
	transcriber Transcriber
	vision      VisionDescriber
	extractor   DocumentExtractor
	logger      *slog.Logger
}

func NewNormalizer(log *slog.Logger, fetcher MediaFetcher, transcriber Transcriber, vision VisionDescriber, extractor DocumentExtractor) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		fetcher:     fetcher,
		transcriber: transcriber,
		vision:      vision,
		extractor:   extractor,
		logger:      log.With(slog.String("service", "normalizer")),
	}
}

// Normalize converts any inbound message into canonical text. It never
// returns an error: a failed branch yields a degraded Result carrying
// the type-specific apology, logged with the message id and type.
func (n *Normalizer) Normalize(ctx context.Context, cfg *business.Config, msg InboundMessage) Result {
	switch msg.Type {
	case TypeText, "":
		return Result{Text: msg.Content}
	case TypeAudio:
		text, err := n.normalizeAudio(ctx, cfg, msg)
		if err != nil {
			return n.degrade(msg, apologyAudio, err)
		}
		return Result{Text: text}
	case TypeImage:
		text, err := n.normalizeImage(ctx, cfg, msg)
		if err != nil {
			return n.degrade(msg, apologyImage, err)
		}
		return Result{Text: text}
	case TypeDocument:
		text, err := n.normalizeDocument(ctx, cfg, msg)
		if err != nil {
			return n.degrade(msg, apologyDocument, err)
		}
		return Result{Text: text}
	default:
		return n.degrade(msg, apologyDocument, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (n *Normalizer) normalizeAudio(ctx context.Context, cfg *business.Config, msg InboundMessage) (string, error) {
	if n.fetcher == nil || n.transcriber == nil {
		return "", fmt.Errorf("audio collaborators not configured")
	}
	audio, _, err := n.fetcher.Fetch(ctx, cfg, msg.Content)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}
	transcript, err := n.transcriber.Transcribe(ctx, audio, msg.Filename)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("empty transcript")
	}
	return transcript, nil
}

func (n *Normalizer) normalizeImage(ctx context.Context, cfg *business.Config, msg InboundMessage) (string, error) {
	if n.fetcher == nil || n.vision == nil {
		return "", fmt.Errorf("image collaborators not configured")
	}
	imageURL, err := n.fetcher.ResolveURL(ctx, cfg, msg.Content)
	if err != nil {
		return "", fmt.Errorf("resolve media url: %w", err)
	}
	description, err := n.vision.Describe(ctx, imageURL, visionPrompt(cfg))
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return "", fmt.Errorf("empty description")
	}
	return imagePrefix + description, nil
}

func (n *Normalizer) normalizeDocument(ctx context.Context, cfg *business.Config, msg InboundMessage) (string, error) {
	if n.fetcher == nil {
		return "", fmt.Errorf("media fetcher not configured")
	}
	data, contentType, err := n.fetcher.Fetch(ctx, cfg, msg.Content)
	if err != nil {
		return "", fmt.Errorf("fetch document: %w", err)
	}
	mime := msg.MimeType
	if mime == "" {
		mime = contentType
	}

	var text string
	switch {
	case isPDF(data, mime):
		if n.extractor == nil {
			return "", fmt.Errorf("document extractor not configured")
		}
		text, err = n.extractor.Extract(ctx, data, msg.Filename)
		if err != nil {
			return "", fmt.Errorf("extract pdf: %w", err)
		}
	case isHTML(data, mime):
		text, err = readableText(data)
		if err != nil {
			return "", fmt.Errorf("extract html: %w", err)
		}
	case utf8.Valid(data):
		text = string(data)
	default:
		// Unsupported binary format: fall back to the filename so the
		// flow still sees that a document arrived.
		text = msg.Filename
		if text == "" {
			text = "archivo adjunto"
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty document text")
	}
	return documentPrefix + text, nil
}

func (n *Normalizer) degrade(msg InboundMessage, apology string, err error) Result {
	n.logger.Error("normalization failed",
		slog.String("message_id", msg.ID),
		slog.String("type", string(msg.Type)),
		slog.Any("error", err))
	return Result{Text: apology, Degraded: true}
}

func visionPrompt(cfg *business.Config) string {
	name := "un negocio"
	if cfg != nil && cfg.Profile != nil && cfg.Profile.Name != "" {
		name = cfg.Profile.Name
	}
	return fmt.Sprintf("Describí brevemente esta imagen en el contexto de una consulta de un cliente de %s. Mencioná lo que sea relevante para entender qué necesita.", name)
}

func isPDF(data []byte, mime string) bool {
	if strings.EqualFold(mime, "application/pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF"))
}

func isHTML(data []byte, mime string) bool {
	if strings.HasPrefix(strings.ToLower(mime), "text/html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(data))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func readableText(data []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err != nil {
		return "", err
	}
	return article.TextContent, nil
}
