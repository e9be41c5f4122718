package serve

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
)

// handleDiscovery serves the hosting discovery document with each action's
// urlsrc rewritten to point at this host.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var doc, err = os.ReadFile(s.cfg.DiscoveryPath)
	if err != nil {
		log.WithFields(log.Fields{"path": s.cfg.DiscoveryPath, "err": err}).
			Error("failed to read discovery document")
		http.Error(w, "discovery document unavailable", http.StatusInternalServerError)
		return
	}

	var host = r.Host
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
	}
	var urlsrc = fmt.Sprintf("https://%s:%d/loleaflet/dist/loleaflet.html?",
		host, s.cfg.AdvertisedPort)

	rewritten, err := rewriteDiscovery(doc, urlsrc)
	if err != nil {
		log.WithField("err", err).Error("failed to rewrite discovery document")
		http.Error(w, "discovery document unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("User-Agent", "LOOLWSD WOPI Agent")
	_, _ = w.Write(rewritten)
}

// rewriteDiscovery sets the urlsrc attribute of every action element,
// leaving the rest of the document untouched.
func rewriteDiscovery(doc []byte, urlsrc string) ([]byte, error) {
	var out bytes.Buffer
	var dec = xml.NewDecoder(bytes.NewReader(doc))
	var enc = xml.NewEncoder(&out)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("parsing discovery document: %w", err)
		}

		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "action" {
			var found bool
			for i := range start.Attr {
				if start.Attr[i].Name.Local == "urlsrc" {
					start.Attr[i].Value = urlsrc
					found = true
				}
			}
			if !found {
				start.Attr = append(start.Attr,
					xml.Attr{Name: xml.Name{Local: "urlsrc"}, Value: urlsrc})
			}
			tok = start
		}

		if err = enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return nil, fmt.Errorf("encoding discovery document: %w", err)
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
