package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/domain"
)

// Endpoints is what one connect attempt needs to know about the server:
// candidate websocket URLs in preference order and the protocol domains.
type Endpoints struct {
	Candidates []string
	Domain     string
	MUCDomain  string
}

// configPatterns match the `config = {...}` assignment inside the
// JavaScript configuration file servers publish.
var configPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)window\.config\s*=\s*(\{[^}]*(?:\{[^}]*\}[^}]*)*\})`),
	regexp.MustCompile(`(?s)var\s+config\s*=\s*(\{[^}]*(?:\{[^}]*\}[^}]*)*\})`),
	regexp.MustCompile(`(?s)config\s*=\s*(\{[^}]*(?:\{[^}]*\}[^}]*)*\})`),
}

var (
	// The `//` of a URL scheme is preceded by ':' and is not a comment.
	lineCommentRe  = regexp.MustCompile(`(?m)(^|[^:])//.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingObjRe  = regexp.MustCompile(`,\s*\}`)
	trailingArrRe  = regexp.MustCompile(`,\s*\]`)
)

// Discover resolves the websocket endpoints for serverURL. It derives
// defaults from the URL and then tries to refine them from the server's
// config.js; that fetch is best-effort and must never fail the connect
// attempt, so every error path returns the derived defaults.
func Discover(client *http.Client, serverURL string, room domain.RoomName, timeout time.Duration) Endpoints {
	ep := deriveEndpoints(serverURL, room)

	cfg, err := fetchServerConfig(client, serverURL, timeout)
	if err != nil {
		log.Warn().Err(err).Str("module", "transport.discovery").Str("server", serverURL).Msg("config fetch failed, using derived defaults")
		return ep
	}

	if hosts, ok := cfg["hosts"].(map[string]any); ok {
		if d, ok := hosts["domain"].(string); ok && d != "" {
			ep.Domain = d
			ep.MUCDomain = "conference." + d
		}
	}
	if ws, ok := cfg["websocket"].(map[string]any); ok {
		if u, ok := ws["url"].(string); ok && u != "" {
			ep.Candidates = append([]string{u}, ep.Candidates...)
		}
	} else if u, ok := cfg["websocket"].(string); ok && u != "" {
		ep.Candidates = append([]string{u}, ep.Candidates...)
	}

	log.Debug().Str("module", "transport.discovery").Str("domain", ep.Domain).Int("candidates", len(ep.Candidates)).Msg("endpoints discovered")
	return ep
}

func deriveEndpoints(serverURL string, room domain.RoomName) Endpoints {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		// A broken server URL still yields a non-empty candidate list; the
		// dial loop reports the real failure.
		return Endpoints{Candidates: []string{serverURL}, Domain: serverURL, MUCDomain: "conference." + serverURL}
	}

	proto := "ws"
	if u.Scheme == "https" {
		proto = "wss"
	}
	host := u.Host // includes the port when present

	candidates := []string{
		fmt.Sprintf("%s://%s/xmpp-websocket?room=%s", proto, host, room),
		fmt.Sprintf("%s://%s/http-bind", proto, host),
		fmt.Sprintf("%s://%s/websocket", proto, host),
		fmt.Sprintf("%s://%s/colibri-ws/default-id/%s", proto, host, room),
	}
	if u.Port() == "" {
		if proto == "wss" {
			candidates = append(candidates,
				fmt.Sprintf("wss://%s:8443/xmpp-websocket?room=%s", u.Hostname(), room))
		} else {
			candidates = append(candidates,
				fmt.Sprintf("ws://%s:8080/xmpp-websocket?room=%s", u.Hostname(), room))
		}
	}

	return Endpoints{
		Candidates: candidates,
		Domain:     u.Hostname(),
		MUCDomain:  "conference." + u.Hostname(),
	}
}

func fetchServerConfig(client *http.Client, serverURL string, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/config.js", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "meetwire/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	for _, re := range configPatterns {
		m := re.FindSubmatch(body)
		if m == nil {
			continue
		}
		var cfg map[string]any
		if err := json.Unmarshal(cleanConfigJSON(m[1]), &cfg); err != nil {
			log.Debug().Err(err).Str("module", "transport.discovery").Msg("config candidate did not parse as JSON")
			continue
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("config fetch: no parsable config object in response")
}

// cleanConfigJSON strips JavaScript comments and trailing commas so the
// object body parses as JSON.
func cleanConfigJSON(js []byte) []byte {
	out := blockCommentRe.ReplaceAll(js, nil)
	out = lineCommentRe.ReplaceAll(out, []byte("$1"))
	out = trailingObjRe.ReplaceAll(out, []byte("}"))
	out = trailingArrRe.ReplaceAll(out, []byte("]"))
	return out
}
