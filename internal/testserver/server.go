// Package testserver runs an in-process conferencing server speaking just
// enough of the wire protocol for transport and conference tests: config
// endpoint, websocket upgrade, presence echo, groupchat echo and ping
// replies. Connections can be dropped on demand to exercise reconnection.
package testserver

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Roommate is a scripted remote participant announced to every client that
// joins the room.
type Roommate struct {
	Nick       string
	AudioMuted bool
	VideoMuted bool
	StatusText string
}

type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	conns     []*conn
	roommates []Roommate
	refuse    bool
	pings     int
	chats     []string
}

func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{}

	r := gin.New()
	r.GET("/config.js", s.handleConfig)
	r.GET("/xmpp-websocket", s.handleSocket)
	s.srv = httptest.NewServer(r)
	return s
}

// URL is the server base URL, usable as the conference server URL.
func (s *Server) URL() string { return s.srv.URL }

func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// AddRoommate scripts a participant that greets every joiner.
func (s *Server) AddRoommate(m Roommate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roommates = append(s.roommates, m)
}

// SetRefuseUpgrades makes the websocket endpoint reject new connections,
// simulating an unreachable server.
func (s *Server) SetRefuseUpgrades(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// DropConnections closes every live connection without a close handshake,
// as a crashing server would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// PingCount reports how many heartbeat queries arrived.
func (s *Server) PingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// ChatBodies reports the chat message bodies received, in order.
func (s *Server) ChatBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chats...)
}

func (s *Server) handleConfig(c *gin.Context) {
	// Unquoted keys on purpose: real servers publish JavaScript here, and
	// clients must survive it by falling back to derived defaults.
	c.Data(http.StatusOK, "application/javascript",
		[]byte("var config = {hosts: {domain: 'test.local'}};\n"))
}

func (s *Server) handleSocket(c *gin.Context) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cn := &conn{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, cn)
	s.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.handleStanza(cn, data)
	}
}

type inboundStanza struct {
	XMLName xml.Name
	To      string `xml:"to,attr"`
	Type    string `xml:"type,attr"`
	ID      string `xml:"id,attr"`
	Body    string `xml:"body"`
	MUC     *struct {
		XMLName xml.Name `xml:"x"`
	} `xml:"x"`
	AudioMuted string `xml:"audiomuted"`
	VideoMuted string `xml:"videomuted"`
	Status     string `xml:"status"`
}

func (s *Server) handleStanza(cn *conn, data []byte) {
	var in inboundStanza
	if err := xml.Unmarshal(data, &in); err != nil {
		return
	}

	switch in.XMLName.Local {
	case "presence":
		if in.Type == "unavailable" {
			return
		}
		if in.MUC == nil {
			// Initial presence, nothing to answer.
			return
		}
		s.greetJoiner(cn, in)

	case "message":
		if in.Type != "groupchat" || in.Body == "" {
			return
		}
		s.mu.Lock()
		s.chats = append(s.chats, in.Body)
		s.mu.Unlock()
		// MUC reflects groupchat back to the room, sender included.
		cn.send(fmt.Sprintf(
			"<message from='%s' type='groupchat' id='%s'><body>%s</body></message>",
			in.To+"/server-echo", in.ID, in.Body))

	case "iq":
		if in.Type == "get" {
			s.mu.Lock()
			s.pings++
			s.mu.Unlock()
			cn.send(fmt.Sprintf("<iq from='%s' type='result' id='%s'/>", in.To, in.ID))
		}
	}
}

// greetJoiner reflects the joiner's own presence and announces the
// scripted roommates, the way a room does on entry.
func (s *Server) greetJoiner(cn *conn, join inboundStanza) {
	roomAddr := join.To
	if i := strings.LastIndex(roomAddr, "/"); i >= 0 {
		roomAddr = roomAddr[:i]
	}

	s.mu.Lock()
	roommates := append([]Roommate(nil), s.roommates...)
	s.mu.Unlock()

	for _, m := range roommates {
		cn.send(presenceFor(roomAddr, m))
	}
	// Self echo last, mirroring the flags the joiner sent.
	cn.send(fmt.Sprintf(
		"<presence from='%s'><audiomuted xmlns='http://jitsi.org/jitmeet/audio'>%s</audiomuted><videomuted xmlns='http://jitsi.org/jitmeet/video'>%s</videomuted></presence>",
		join.To, orFalse(join.AudioMuted), orFalse(join.VideoMuted)))
}

// UpdateParticipant broadcasts a fresh presence for a roommate, as a room
// does when a member changes status or mute state.
func (s *Server) UpdateParticipant(roomAddr string, m Roommate) {
	s.mu.Lock()
	conns := append([]*conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.send(presenceFor(roomAddr, m))
	}
}

// DropParticipant sends an unavailable presence for a roommate to every
// connection.
func (s *Server) DropParticipant(roomAddr, nick string) {
	s.mu.Lock()
	conns := append([]*conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.send(fmt.Sprintf("<presence from='%s/%s' type='unavailable'/>", roomAddr, nick))
	}
}

func presenceFor(roomAddr string, m Roommate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s/%s'>", roomAddr, m.Nick)
	if m.StatusText != "" {
		fmt.Fprintf(&b, "<status>%s</status>", m.StatusText)
	}
	fmt.Fprintf(&b, "<audiomuted xmlns='http://jitsi.org/jitmeet/audio'>%t</audiomuted>", m.AudioMuted)
	fmt.Fprintf(&b, "<videomuted xmlns='http://jitsi.org/jitmeet/video'>%t</videomuted>", m.VideoMuted)
	b.WriteString("</presence>")
	return b.String()
}

func orFalse(v string) string {
	if v == "" {
		return "false"
	}
	return v
}
