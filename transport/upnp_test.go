package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:InternetGatewayDevice:1</deviceType>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:WANDevice:1</deviceType>
        <deviceList>
          <device>
            <serviceList>
              <service>
                <serviceType>urn:schemas-upnp-org:service:WANIPConnection:1</serviceType>
                <controlURL>/ctl/IPConn</controlURL>
              </service>
            </serviceList>
          </device>
        </deviceList>
      </device>
    </deviceList>
  </device>
</root>`

type fakeGateway struct {
	mu      sync.Mutex
	actions []string
	bodies  []string
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rootDesc.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testDescription)
	})
	mux.HandleFunc("/ctl/IPConn", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.actions = append(g.actions, r.Header.Get("SOAPAction"))
		g.bodies = append(g.bodies, string(body))
		g.mu.Unlock()
		if strings.Contains(r.Header.Get("SOAPAction"), "GetExternalIPAddress") {
			io.WriteString(w, `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>`+
				`<u:GetExternalIPAddressResponse xmlns:u="urn:schemas-upnp-org:service:WANIPConnection:1">`+
				`<NewExternalIPAddress>203.0.113.7</NewExternalIPAddress></u:GetExternalIPAddressResponse></s:Body></s:Envelope>`)
		}
	})
	return mux
}

// ssdpResponder answers one M-SEARCH with the given location.
func ssdpResponder(t *testing.T, location string) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil || !strings.HasPrefix(string(buf[:n]), "M-SEARCH") {
			return
		}
		resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=120\r\nlocation: %s\r\n\r\n", location)
		conn.WriteTo([]byte(resp), addr)
	}()
	return conn.LocalAddr().String()
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation("HTTP/1.1 200 OK\r\nLOCATION: http://192.168.1.1:5000/rootDesc.xml\r\n")
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.1:5000/rootDesc.xml", loc)

	_, err = parseLocation("HTTP/1.1 200 OK\r\nSERVER: x\r\n")
	assert.Error(t, err)
}

func TestPortMapperLifecycle(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(gw.handler())
	defer srv.Close()

	p := NewPortMapper()
	p.ssdpAddr = ssdpResponder(t, srv.URL+"/rootDesc.xml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Discover(ctx))
	assert.Equal(t, srv.URL+"/ctl/IPConn", p.controlURL)
	assert.Equal(t, wanIPService, p.serviceType)

	require.NoError(t, p.MapTCP(ctx, 22012, "quip <peer>", time.Hour))
	ip, err := p.ExternalIP(ctx)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip.String())
	require.NoError(t, p.UnmapAll(ctx))

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.actions, 3)
	assert.Equal(t, `"`+wanIPService+`#AddPortMapping"`, gw.actions[0])
	assert.Contains(t, gw.bodies[0], "<NewExternalPort>22012</NewExternalPort>")
	assert.Contains(t, gw.bodies[0], "quip &lt;peer&gt;")
	assert.Contains(t, gw.bodies[0], "<NewLeaseDuration>3600</NewLeaseDuration>")
	assert.Contains(t, gw.actions[2], "DeletePortMapping")
}

func TestPortMapperNoGateway(t *testing.T) {
	silent, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	p := NewPortMapper()
	p.ssdpAddr = silent.LocalAddr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Discover(ctx), ErrNoGateway)
}
