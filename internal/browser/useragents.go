package browser

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

// loadUserAgents reads one UA per line, skipping blanks and # comments. A
// missing file is not an error; the built-in pool is used instead.
func loadUserAgents(path string, logger *zap.Logger) ([]string, error) {
	if path == "" {
		return defaultUserAgents, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("user agent file not found, using defaults", zap.String("path", path))
			return defaultUserAgents, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var agents []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		agents = append(agents, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(agents) == 0 {
		logger.Warn("user agent file was empty, using defaults", zap.String("path", path))
		return defaultUserAgents, nil
	}
	logger.Info("loaded user agent pool", zap.String("path", path), zap.Int("count", len(agents)))
	return agents, nil
}

func loadStealthScript(path string, logger *zap.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("stealth script not found", zap.String("path", path))
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	logger.Info("loaded stealth script", zap.String("path", path), zap.Int("bytes", len(data)))
	return string(data), nil
}

func (m *Manager) pickUserAgentLocked() string {
	pool := m.userAgents
	if len(pool) == 0 {
		pool = defaultUserAgents
	}
	return pool[rand.Intn(len(pool))]
}
