package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
)

const component = "media"

// Info is the source metadata needed to plan pipeline work for one item.
type Info struct {
	ID       string
	Title    string
	Duration time.Duration
	Captions []CaptionTrack

	video *youtube.Video
}

// CaptionTrack identifies one published caption track.
type CaptionTrack struct {
	Language string
	Name     string
	BaseURL  string
}

// HTTPDoer describes the HTTP client used for caption fetches.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader resolves source URLs into local audio files and published
// captions.
type Downloader struct {
	client   youtube.Client
	http     HTTPDoer
	mediaDir string
	logger   *slog.Logger
}

// NewDownloader constructs a downloader writing into the configured media
// directory.
func NewDownloader(cfg *config.Config, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:   youtube.Client{},
		http:     &http.Client{Timeout: 60 * time.Second},
		mediaDir: cfg.Paths.MediaDir,
		logger:   logger.With(logging.String(logging.FieldComponent, component)),
	}
}

// Inspect resolves the source URL into metadata and available caption
// tracks.
func (d *Downloader) Inspect(ctx context.Context, sourceURL string) (*Info, error) {
	video, err := d.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, component, "inspect", "resolve source", err)
	}

	info := &Info{
		ID:       video.ID,
		Title:    video.Title,
		Duration: video.Duration,
		video:    video,
	}
	for _, track := range video.CaptionTracks {
		info.Captions = append(info.Captions, CaptionTrack{
			Language: track.LanguageCode,
			Name:     track.Name.SimpleText,
			BaseURL:  track.BaseURL,
		})
	}
	return info, nil
}

// FindCaption picks the caption track for a language, preferring an exact
// prefix match and falling back to the first published track.
func (i *Info) FindCaption(language string) *CaptionTrack {
	if len(i.Captions) == 0 {
		return nil
	}
	for idx := range i.Captions {
		if strings.HasPrefix(strings.ToLower(i.Captions[idx].Language), strings.ToLower(language)) {
			return &i.Captions[idx]
		}
	}
	return &i.Captions[0]
}

// FetchCaptions downloads and parses the caption track for a language into
// transcript segments. Returns services.ErrNotFound when the source
// publishes no captions, which callers treat as "transcribe the audio
// instead".
func (d *Downloader) FetchCaptions(ctx context.Context, info *Info, language string) ([]catalog.Segment, string, error) {
	track := info.FindCaption(language)
	if track == nil {
		return nil, "", services.Wrap(services.ErrNotFound, component, "captions", "no caption tracks published", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
	if err != nil {
		return nil, "", services.Wrap(services.ErrConfiguration, component, "captions", "build request", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, "", services.Wrap(services.ErrExternalService, component, "captions", "fetch caption track", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", services.Wrap(services.ErrExternalService, component, "captions",
			fmt.Sprintf("caption fetch returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", services.Wrap(services.ErrExternalService, component, "captions", "read caption track", err)
	}
	segments, err := ParseTimedText(body)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, component, "captions", "parse caption track", err)
	}
	if len(segments) == 0 {
		return nil, "", services.Wrap(services.ErrNotFound, component, "captions", "caption track empty", nil)
	}
	return segments, track.Language, nil
}

// DownloadAudio streams the best audio-only format to the media directory
// and returns the path relative to it, which is the audioRef handed to the
// transcriber.
func (d *Downloader) DownloadAudio(ctx context.Context, info *Info, externalID string) (string, error) {
	format := bestAudioFormat(info.video)
	if format == nil {
		return "", services.Wrap(services.ErrValidation, component, "download",
			"source has no audio-only formats", nil)
	}

	stream, size, err := d.client.GetStreamContext(ctx, info.video, format)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, component, "download", "open audio stream", err)
	}
	defer stream.Close()

	name := externalID + audioExtension(format.MimeType)
	target := filepath.Join(d.mediaDir, name)
	if err := os.MkdirAll(d.mediaDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, component, "download", "create media directory", err)
	}
	file, err := os.Create(target)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, component, "download", "create audio file", err)
	}
	defer file.Close()

	written, err := io.Copy(file, stream)
	if err != nil {
		_ = os.Remove(target)
		return "", services.Wrap(services.ErrExternalService, component, "download", "stream audio", err)
	}
	d.logger.Debug("downloaded audio",
		logging.String("file", name),
		logging.Int64("bytes", written),
		logging.Int64("expected", size))
	return name, nil
}

// bestAudioFormat returns the highest-bitrate audio-only format, preferring
// the default audio track when the source carries several languages.
func bestAudioFormat(video *youtube.Video) *youtube.Format {
	var best *youtube.Format
	for idx := range video.Formats {
		format := &video.Formats[idx]
		if !strings.HasPrefix(format.MimeType, "audio/") {
			continue
		}
		if format.AudioTrack != nil && !format.AudioTrack.AudioIsDefault {
			continue
		}
		if best == nil || format.Bitrate > best.Bitrate {
			best = format
		}
	}
	return best
}

func audioExtension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return ".m4a"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	default:
		return ".audio"
	}
}
