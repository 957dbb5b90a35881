package transport

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	ssdpMulticast = "239.255.255.250:1900"
	wanIPService  = "urn:schemas-upnp-org:service:WANIPConnection:1"
	wanPPPService = "urn:schemas-upnp-org:service:WANPPPConnection:1"
	gatewayDevice = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
)

// ErrNoGateway indicates no UPnP gateway answered discovery
var ErrNoGateway = errors.New("no UPnP gateway found")

// PortMapper requests TCP port mappings from a UPnP internet gateway.
type PortMapper struct {
	timeout    time.Duration
	ssdpAddr   string
	httpClient *http.Client

	location    string
	controlURL  string
	serviceType string
	mapped      []int
}

// NewPortMapper creates a mapper using the standard SSDP multicast address.
func NewPortMapper() *PortMapper {
	return &PortMapper{
		timeout:    10 * time.Second,
		ssdpAddr:   ssdpMulticast,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Discover locates the gateway and its WAN connection control URL.
func (p *PortMapper) Discover(ctx context.Context) error {
	if p.controlURL != "" {
		return nil
	}
	location, err := p.search(ctx, gatewayDevice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoGateway, err)
	}
	p.location = location
	return p.describe(ctx)
}

func (p *PortMapper) search(ctx context.Context, target string) (string, error) {
	raddr, err := net.ResolveUDPAddr("udp4", p.ssdpAddr)
	if err != nil {
		return "", err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return "", fmt.Errorf("failed to create UDP connection: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.timeout)
	}
	conn.SetDeadline(deadline)

	request := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpMulticast + "\r\n" +
		"ST: " + target + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n\r\n"
	if _, err := conn.Write([]byte(request)); err != nil {
		return "", fmt.Errorf("failed to send SSDP request: %w", err)
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to read SSDP response: %w", err)
	}
	return parseLocation(string(buf[:n]))
}

func parseLocation(response string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(response))
	for scanner.Scan() {
		name, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if ok && strings.EqualFold(name, "location") {
			return strings.TrimSpace(value), nil
		}
	}
	return "", errors.New("LOCATION header not found in SSDP response")
}

type upnpService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

type upnpDevice struct {
	Services []upnpService `xml:"serviceList>service"`
	Devices  []upnpDevice  `xml:"deviceList>device"`
}

type upnpRoot struct {
	URLBase string     `xml:"URLBase"`
	Device  upnpDevice `xml:"device"`
}

func (d upnpDevice) find() (upnpService, bool) {
	for _, s := range d.Services {
		if s.ServiceType == wanIPService || s.ServiceType == wanPPPService {
			return s, true
		}
	}
	for _, child := range d.Devices {
		if s, ok := child.find(); ok {
			return s, true
		}
	}
	return upnpService{}, false
}

func (p *PortMapper) describe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.location, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch device description: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	var root upnpRoot
	if err := xml.NewDecoder(resp.Body).Decode(&root); err != nil {
		return fmt.Errorf("failed to parse device description: %w", err)
	}
	svc, ok := root.Device.find()
	if !ok {
		return errors.New("WAN connection service not found in device description")
	}

	base := p.location
	if root.URLBase != "" {
		base = root.URLBase
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid gateway URL: %w", err)
	}
	control, err := baseURL.Parse(svc.ControlURL)
	if err != nil {
		return fmt.Errorf("invalid control URL: %w", err)
	}
	p.controlURL = control.String()
	p.serviceType = svc.ServiceType
	return nil
}

// MapTCP forwards external port to the same local port on this host.
func (p *PortMapper) MapTCP(ctx context.Context, port int, description string, lease time.Duration) error {
	if err := p.Discover(ctx); err != nil {
		return err
	}
	internal, err := p.localIP()
	if err != nil {
		return err
	}

	args := fmt.Sprintf("<NewRemoteHost></NewRemoteHost>"+
		"<NewExternalPort>%d</NewExternalPort>"+
		"<NewProtocol>TCP</NewProtocol>"+
		"<NewInternalPort>%d</NewInternalPort>"+
		"<NewInternalClient>%s</NewInternalClient>"+
		"<NewEnabled>1</NewEnabled>"+
		"<NewPortMappingDescription>%s</NewPortMappingDescription>"+
		"<NewLeaseDuration>%d</NewLeaseDuration>",
		port, port, internal, xmlEscape(description), int(lease.Seconds()))
	if _, err := p.soap(ctx, "AddPortMapping", args); err != nil {
		return err
	}
	p.mapped = append(p.mapped, port)

	logrus.WithFields(logrus.Fields{
		"function": "MapTCP",
		"port":     port,
		"internal": internal,
	}).Info("UPnP port mapping added")
	return nil
}

// UnmapAll removes every mapping added by MapTCP.
func (p *PortMapper) UnmapAll(ctx context.Context) error {
	var errs []error
	for _, port := range p.mapped {
		args := fmt.Sprintf("<NewRemoteHost></NewRemoteHost>"+
			"<NewExternalPort>%d</NewExternalPort>"+
			"<NewProtocol>TCP</NewProtocol>", port)
		if _, err := p.soap(ctx, "DeletePortMapping", args); err != nil {
			errs = append(errs, err)
		}
	}
	p.mapped = nil
	return errors.Join(errs...)
}

// ExternalIP asks the gateway for its public address.
func (p *PortMapper) ExternalIP(ctx context.Context) (net.IP, error) {
	if err := p.Discover(ctx); err != nil {
		return nil, err
	}
	body, err := p.soap(ctx, "GetExternalIPAddress", "")
	if err != nil {
		return nil, err
	}
	var resp struct {
		IP string `xml:"Body>GetExternalIPAddressResponse>NewExternalIPAddress"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse SOAP response: %w", err)
	}
	ip := net.ParseIP(strings.TrimSpace(resp.IP))
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %q", resp.IP)
	}
	return ip, nil
}

func (p *PortMapper) soap(ctx context.Context, action, args string) ([]byte, error) {
	if p.controlURL == "" {
		return nil, errors.New("control URL not set")
	}
	body := `<?xml version="1.0"?>` +
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
		`<s:Body><u:` + action + ` xmlns:u="` + p.serviceType + `">` + args + `</u:` + action + `></s:Body></s:Envelope>`

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.controlURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create SOAP request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+p.serviceType+"#"+action+`"`)
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send SOAP request: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read SOAP response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SOAP %s failed: %s", action, resp.Status)
	}
	return out, nil
}

// localIP returns the address this host uses to reach the gateway.
func (p *PortMapper) localIP() (string, error) {
	u, err := url.Parse(p.controlURL)
	if err != nil {
		return "", err
	}
	conn, err := net.Dial("udp", u.Host)
	if err != nil {
		return "", fmt.Errorf("determine local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
