package i18n

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/resource"
)

const propertiesExt = ".properties"

// MessageSource serves messages from .properties bundles. For a basename
// "messages/message" the files message.properties, message_ko.properties,
// message_en_US.properties and so on are read from the messages directory.
//
// Lookup tries the requested locale (language and region, then language
// alone), then the default locale, then the bundle without a locale suffix.
// Earlier basenames win over later ones for the same code.
type MessageSource struct {
	fs               afero.Fs
	basenames        []string
	useCodeAsDefault bool
	defaultLocale    language.Tag
	logger           *logging.Logger

	mu      sync.RWMutex
	bundles map[string]map[string]string // bundle key -> code -> message
}

// NewMessageSource loads every bundle of the configured basenames.
func NewMessageSource(fs afero.Fs, cfg config.MessagesConfig, defaultLocale language.Tag, logger *logging.Logger) (*MessageSource, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	basenames := make([]string, 0, len(cfg.Basenames))
	for _, b := range cfg.Basenames {
		basenames = append(basenames, resource.Clean(b))
	}

	ms := &MessageSource{
		fs:               fs,
		basenames:        basenames,
		useCodeAsDefault: config.BoolValue(cfg.UseCodeAsDefault, true),
		defaultLocale:    defaultLocale,
		logger:           logger.WithComponent("messages"),
	}
	if err := ms.Reload(); err != nil {
		return nil, err
	}
	return ms, nil
}

// Reload re-reads all bundles. On failure the previous bundles stay in use.
func (m *MessageSource) Reload() error {
	bundles := make(map[string]map[string]string)
	files := 0

	for _, basename := range m.basenames {
		dir, prefix := path.Split(basename)
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" {
			dir = "."
		}

		entries, err := afero.ReadDir(m.fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				m.logger.Warn().Str("basename", basename).Msg("message bundle directory not found")
				continue
			}
			return fmt.Errorf("read message bundles %s: %w", basename, err)
		}

		for _, entry := range entries {
			key, ok := bundleKeyFromFile(entry.Name(), prefix)
			if entry.IsDir() || !ok {
				continue
			}
			messages, err := m.readBundle(path.Join(dir, entry.Name()))
			if err != nil {
				return err
			}
			files++

			bundle := bundles[key]
			if bundle == nil {
				bundle = make(map[string]string, len(messages))
				bundles[key] = bundle
			}
			for code, msg := range messages {
				if _, exists := bundle[code]; !exists {
					bundle[code] = msg
				}
			}
		}
	}

	m.mu.Lock()
	m.bundles = bundles
	m.mu.Unlock()

	m.logger.Debug().Int("files", files).Int("bundles", len(bundles)).Msg("message bundles loaded")
	return nil
}

func (m *MessageSource) readBundle(file string) (map[string]string, error) {
	data, err := afero.ReadFile(m.fs, file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	messages, err := config.ParseProperties(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return messages, nil
}

// bundleKeyFromFile maps "message_en_US.properties" with prefix "message"
// to "en_US" and "message.properties" to "".
func bundleKeyFromFile(name, prefix string) (string, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, propertiesExt) {
		return "", false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, prefix), propertiesExt)
	if middle == "" {
		return "", true
	}
	if !strings.HasPrefix(middle, "_") {
		return "", false
	}
	tag, err := ParseLocale(middle[1:])
	if err != nil {
		return "", false
	}
	return bundleKey(tag), true
}

// bundleKey is "lang_REGION" when the region is explicit, else "lang".
func bundleKey(tag language.Tag) string {
	base, _ := tag.Base()
	if region, conf := tag.Region(); conf == language.Exact {
		return base.String() + "_" + region.String()
	}
	return base.String()
}

func candidates(tag language.Tag) []string {
	if tag.IsRoot() {
		return nil
	}
	base, _ := tag.Base()
	key := bundleKey(tag)
	if key == base.String() {
		return []string{key}
	}
	return []string{key, base.String()}
}

// GetMessage looks code up for tag without any default.
func (m *MessageSource) GetMessage(code string, args []any, tag language.Tag) (string, bool) {
	keys := append(candidates(tag), candidates(m.defaultLocale)...)
	keys = append(keys, "")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range keys {
		if msg, ok := m.bundles[key][code]; ok {
			return Format(msg, args...), true
		}
	}
	return "", false
}

// Message looks code up for tag. A missing code yields the code itself
// when use_code_as_default is set and an empty string otherwise.
func (m *MessageSource) Message(code string, args []any, tag language.Tag) string {
	if msg, ok := m.GetMessage(code, args, tag); ok {
		return msg
	}
	if m.useCodeAsDefault {
		return code
	}
	m.logger.Debug().Str("code", code).Str(logging.Locale, tag.String()).Msg("message not found")
	return ""
}

// Locales returns the bundle keys currently loaded, "" being the default bundle.
func (m *MessageSource) Locales() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.bundles))
	for k := range m.bundles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Watch reloads the bundles whenever a .properties file changes under the
// bundle directories. root is the OS directory the resource filesystem is
// rooted at. Watching stops when ctx is done.
func (m *MessageSource) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := make(map[string]bool)
	for _, basename := range m.basenames {
		dir := filepath.Join(root, filepath.FromSlash(path.Dir(basename)))
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch message bundles")
			continue
		}
		watched[dir] = true
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, propertiesExt) || ev.Op == fsnotify.Chmod {
					continue
				}
				if err := m.Reload(); err != nil {
					m.logger.Error().Err(err).Str("file", ev.Name).Msg("message reload failed")
					continue
				}
				m.logger.Info().Str("file", ev.Name).Msg("message bundles reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn().Err(err).Msg("message watcher error")
			}
		}
	}()
	return nil
}

// Format replaces {0}, {1}, ... with the matching argument. A doubled
// single quote renders as one quote. Without arguments msg is returned
// unchanged.
func Format(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}

	var b strings.Builder
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c == '\'' && i+1 < len(msg) && msg[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		if c == '{' {
			if end := strings.IndexByte(msg[i:], '}'); end > 0 {
				idx, err := strconv.Atoi(strings.TrimSpace(msg[i+1 : i+end]))
				if err == nil && idx >= 0 && idx < len(args) {
					b.WriteString(fmt.Sprint(args[idx]))
					i += end
					continue
				}
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
