package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"git.autistici.org/ai3/tools/routegraphs/resolver"
)

type urlFlag string

func (f urlFlag) String() string {
	return string(f)
}

func (f *urlFlag) Set(s string) error {
	if _, err := url.Parse(s); err != nil {
		return err
	}
	*f = urlFlag(s)
	return nil
}

// parseASNArg accepts both "64999" and "AS64999".
func parseASNArg(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(s), "AS"), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("bad ASN %q", s)
	}
	return uint32(n), nil
}

func parseASNArgs(args []string) ([]uint32, error) {
	out := make([]uint32, 0, len(args))
	for _, arg := range args {
		asn, err := parseASNArg(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, asn)
	}
	return out, nil
}

func formatPath(path resolver.Path, guessed bool) string {
	hops := make([]string, len(path))
	for i, asn := range path {
		hops[i] = fmt.Sprintf("AS%d", asn)
	}
	s := strings.Join(hops, " ")
	if guessed {
		s += " (guessed)"
	}
	return s
}
