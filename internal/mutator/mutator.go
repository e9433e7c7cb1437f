// Package mutator produces a per-attempt variant of a campaign payload.
//
// Text templates may contain spintax groups such as "{Hi|Hello}"; one option
// is picked per group on every call. Image and video attachments get a few
// random bytes appended after the end of the encoded stream, which changes
// their content digest while decoders ignore the trailer.
package mutator

import (
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
	"github.com/Mutter0815/MassDispatch/pkg/logx"
)

const (
	minNoise = 5
	maxNoise = 20

	// nested groups are resolved innermost first, one level per pass
	maxSpinDepth = 8

	DefaultMaxMediaBytes = 64 << 20
)

// only groups with at least one alternative count; "{name}" stays literal
var spinGroup = regexp.MustCompile(`\{([^{}]*\|[^{}]*)\}`)

var ErrMediaTooLarge = errors.New("media exceeds mutation limit")

type Mutator struct {
	mu  sync.Mutex
	rnd *rand.Rand

	MaxMediaBytes int
}

func New(src rand.Source) *Mutator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Mutator{rnd: rand.New(src), MaxMediaBytes: DefaultMaxMediaBytes}
}

// Mutate returns the text and media to send for one dispatch attempt. It
// never fails: media that cannot be mutated is sent as is.
func (m *Mutator) Mutate(template string, media *campaign.Media) (string, *campaign.Media) {
	text := m.Spin(template)
	out, err := m.BustMedia(media)
	if err != nil {
		logx.L().Warnw("media_mutation_skipped", "mime", media.MIME, "size", len(media.Data), "error", err)
		return text, media
	}
	return text, out
}

// Spin resolves every alternation group of template. Templates without
// groups are returned unchanged.
func (m *Mutator) Spin(template string) string {
	if !strings.Contains(template, "|") {
		return template
	}
	out := template
	for i := 0; i < maxSpinDepth; i++ {
		if !spinGroup.MatchString(out) {
			break
		}
		out = spinGroup.ReplaceAllStringFunc(out, func(group string) string {
			choices := strings.Split(group[1:len(group)-1], "|")
			return choices[m.intn(len(choices))]
		})
	}
	return out
}

// BustMedia returns a copy of an image or video with 5 to 20 random bytes
// appended. Other media kinds and nil media come back untouched.
func (m *Mutator) BustMedia(media *campaign.Media) (*campaign.Media, error) {
	if media == nil || len(media.Data) == 0 {
		return media, nil
	}
	switch media.Kind() {
	case "image", "video":
	default:
		return media, nil
	}
	if m.MaxMediaBytes > 0 && len(media.Data) > m.MaxMediaBytes {
		return nil, ErrMediaTooLarge
	}

	m.mu.Lock()
	n := minNoise + m.rnd.Intn(maxNoise-minNoise+1)
	noise := make([]byte, n)
	m.rnd.Read(noise)
	m.mu.Unlock()

	data := make([]byte, 0, len(media.Data)+n)
	data = append(data, media.Data...)
	data = append(data, noise...)
	return &campaign.Media{Data: data, MIME: media.MIME, Filename: media.Filename}, nil
}

func (m *Mutator) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rnd.Intn(n)
}
