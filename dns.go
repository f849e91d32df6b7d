package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/miekg/dns"

	"gg.chat/session"
	"gg.chat/transcript"
)

const (
	// dnsMaxAnswer caps the answer so it fits a UDP response
	dnsMaxAnswer = 500
	// dnsTXTChunk is the longest single character-string in a TXT record
	dnsTXTChunk = 255
	// dnsDeadline stays under the retry timeout of common resolvers
	dnsDeadline = 4 * time.Second
)

func newDNSServer(port int, handler dns.Handler) *dns.Server {
	return &dns.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Net:     "udp",
		Handler: handler,
	}
}

// dnsHandler answers TXT questions with a one-shot chat
func (a *app) dnsHandler() dns.Handler {
	return dns.HandlerFunc(a.handleDNS)
}

func (a *app) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	if !a.limiter.Allow(w.RemoteAddr().String()) {
		return
	}

	if len(r.Question) == 0 {
		return
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeTXT {
			continue
		}

		prompt := dnsPrompt(q.Name)
		if prompt == "" {
			continue
		}

		answer := a.answerDNS(prompt)
		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			Txt: splitTXT(answer),
		})
	}

	if err := w.WriteMsg(m); err != nil {
		log.Printf("[DNS] Failed to write response: %v", err)
	}
}

// dnsPrompt turns a query name into the user's question. Only the first
// label is used: `dig "what is a roguelike" TXT` and `dig what-is-a-roguelike.gg.chat TXT`
// both ask "what is a roguelike".
func dnsPrompt(name string) string {
	labels := dns.SplitDomainName(name)
	if len(labels) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(unescapeLabel(labels[0]), "-", " "))
}

// unescapeLabel undoes the \DDD and \X escapes miekg/dns uses in presentation format
func unescapeLabel(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		if i+3 < len(s) && isDigit(s[i+1]) && isDigit(s[i+2]) && isDigit(s[i+3]) {
			b.WriteByte(byte(int(s[i+1]-'0')*100 + int(s[i+2]-'0')*10 + int(s[i+3]-'0')))
			i += 3
			continue
		}
		i++
		b.WriteByte(s[i])
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// answerDNS runs a throwaway blocking session for one question
func (a *app) answerDNS(prompt string) string {
	ctx, cancel := context.WithTimeout(context.Background(), dnsDeadline)
	defer cancel()

	question := "Answer in 500 characters or less, no markdown formatting: " + prompt
	sess := a.newSession("dns-"+generateRequestID(), surfaceDNS)

	collector := &finalTurn{}
	start := time.Now()
	if err := sess.Submit(ctx, collector, question); err != nil {
		return "Error: " + err.Error()
	}
	if debugMode {
		log.Printf("[DNS] Answered %s in %s", generateSignature(prompt), time.Since(start).Round(time.Millisecond))
	}

	answer := collector.text
	if ctx.Err() == context.DeadlineExceeded {
		answer = "Request timed out"
	}
	return truncateAnswer(answer, dnsMaxAnswer)
}

// finalTurn keeps only the last assistant turn rendered
type finalTurn struct {
	text string
}

func (f *finalTurn) RenderTurn(role transcript.Role, content string) {
	if role == transcript.RoleAssistant {
		f.text = content
	}
}
func (f *finalTurn) RenderPartial(string)         {}
func (f *finalTurn) Notify(string)                {}
func (f *finalTurn) ClearAndShow(transcript.Turn) {}

var _ session.Surface = (*finalTurn)(nil)

// truncateAnswer cuts s to at most limit bytes without splitting a UTF-8 sequence
func truncateAnswer(s string, limit int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// splitTXT splits s into 255-byte strings, keeping UTF-8 sequences whole
func splitTXT(s string) []string {
	if s == "" {
		return []string{""}
	}
	var out []string
	for len(s) > 0 {
		end := dnsTXTChunk
		if end >= len(s) {
			out = append(out, s)
			break
		}
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			// not UTF-8; cut at the byte limit
			end = dnsTXTChunk
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}
