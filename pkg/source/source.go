// Package source turns host lists and Nessus scan reports into endpoint URLs.
package source

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/root4loot/goutils/sliceutil"
	"github.com/root4loot/goutils/urlutil"
)

// Kind is the detected input file type.
type Kind int

const (
	HostFile Kind = iota
	Nessus
)

func (k Kind) String() string {
	if k == Nessus {
		return "nessus"
	}
	return "hostfile"
}

var ErrEmptyInput = errors.New("no endpoints found")

// Options controls host file expansion.
type Options struct {
	PrependHTTPS bool     // emit both http:// and https:// for hosts without a scheme
	Ports        []string // appended to hosts that carry no port
}

// Detect reports whether path looks like a Nessus XML export.
func Detect(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return HostFile, fmt.Errorf("could not open file %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return HostFile, fmt.Errorf("could not read file %s: %w", path, err)
	}
	if strings.Contains(line, "xml version") {
		return Nessus, nil
	}
	return HostFile, nil
}

// Load detects the file type of path and parses it.
func Load(path string, opts Options) ([]string, error) {
	kind, err := Detect(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file %s: %w", path, err)
	}
	defer f.Close()

	var endpoints []string
	switch kind {
	case Nessus:
		endpoints, err = ParseNessus(f)
	default:
		endpoints, err = ParseHostFile(f, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, path, err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, path, ErrEmptyInput)
	}
	return endpoints, nil
}

// ParseHostFile reads one host per line. Blank lines and lines starting with
// '#' are skipped.
func ParseHostFile(r io.Reader, opts Options) ([]string, error) {
	var endpoints []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		host := strings.TrimSpace(scanner.Text())
		if host == "" || strings.HasPrefix(host, "#") {
			continue
		}
		endpoints = append(endpoints, expand(host, opts)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return Dedup(endpoints), nil
}

func expand(host string, opts Options) []string {
	scheme, rest := "", host
	hasScheme := urlutil.HasScheme(host)
	if hasScheme {
		scheme, rest, _ = strings.Cut(host, "://")
	}

	hosts := []string{rest}
	if len(opts.Ports) > 0 && !hasPort(rest) {
		hosts = hosts[:0]
		for _, port := range opts.Ports {
			hosts = append(hosts, withPort(rest, port))
		}
	}

	var schemes []string
	switch {
	case hasScheme:
		schemes = []string{scheme}
	case opts.PrependHTTPS:
		schemes = []string{"http", "https"}
	default:
		schemes = []string{"http"}
	}

	var out []string
	for _, h := range hosts {
		for _, s := range schemes {
			out = append(out, s+"://"+h)
		}
	}
	return out
}

func hasPort(hostAndPath string) bool {
	hostport, _, _ := strings.Cut(hostAndPath, "/")
	_, port, err := net.SplitHostPort(hostport)
	return err == nil && port != ""
}

func withPort(hostAndPath, port string) string {
	hostport, path, hasPath := strings.Cut(hostAndPath, "/")
	out := net.JoinHostPort(strings.Trim(hostport, "[]"), port)
	if hasPath {
		out += "/" + path
	}
	return out
}

type nessusReport struct {
	Hosts []nessusHost `xml:"Report>ReportHost"`
}

type nessusHost struct {
	Name  string       `xml:"name,attr"`
	Items []nessusItem `xml:"ReportItem"`
}

type nessusItem struct {
	Port       string `xml:"port,attr"`
	PluginName string `xml:"pluginName,attr"`
	Inner      string `xml:",innerxml"`
}

// ParseNessus returns the web service endpoints found by the Nessus
// "Service Detection" plugin.
func ParseNessus(r io.Reader) ([]string, error) {
	var doc nessusReport
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("not a valid .nessus file: %w", err)
	}

	var endpoints []string
	for _, host := range doc.Hosts {
		for _, item := range host.Items {
			text := item.PluginName + " " + item.Inner
			if !strings.Contains(text, "Service Detection") {
				continue
			}

			scheme := "https://"
			if strings.Contains(item.Inner, "A web server is running on this port.") {
				scheme = "http://"
			}
			endpoints = append(endpoints, scheme+net.JoinHostPort(host.Name, item.Port))
		}
	}

	return Dedup(endpoints), nil
}

// Dedup removes exact duplicates, keeping first occurrences in order.
func Dedup(endpoints []string) []string {
	return sliceutil.AppendUnique(nil, endpoints...)
}
