package usermgr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrMalformedEntry = errors.New("malformed entry")

func parseColonLine(line string) []string {
	// Keep trailing empty fields.
	return strings.Split(strings.TrimRight(line, "\r\n"), ":")
}

func readLines(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	var lines []string
	for s.Scan() {
		trim := strings.TrimSpace(s.Text())
		if trim == "" || strings.HasPrefix(trim, "#") {
			continue
		}
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func atoi(field, ctx string) (int, error) {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("invalid int %q in %s: %w", field, ctx, err)
	}
	return n, nil
}

// ParsePasswdLine parses one passwd(5) line.
func ParsePasswdLine(line string) (*PasswdEntry, error) {
	parts := parseColonLine(line)
	if len(parts) < 7 {
		return nil, fmt.Errorf("%w: passwd line has %d fields", ErrMalformedEntry, len(parts))
	}
	uid, err := atoi(parts[2], "passwd.uid")
	if err != nil {
		return nil, err
	}
	gid, err := atoi(parts[3], "passwd.gid")
	if err != nil {
		return nil, err
	}
	return &PasswdEntry{
		Name:   parts[0],
		Passwd: parts[1],
		UID:    uid,
		GID:    gid,
		Gecos:  parts[4],
		Home:   parts[5],
		Shell:  parts[6],
	}, nil
}

// ParseShadowLine parses one shadow(5) line. Missing trailing fields are empty.
func ParseShadowLine(line string) (*ShadowEntry, error) {
	parts := parseColonLine(line)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: shadow line has %d fields", ErrMalformedEntry, len(parts))
	}
	for len(parts) < 9 {
		parts = append(parts, "")
	}
	return &ShadowEntry{
		Name:       parts[0],
		Hash:       parts[1],
		LastChange: parts[2],
		Min:        parts[3],
		Max:        parts[4],
		Warn:       parts[5],
		Inactive:   parts[6],
		Expire:     parts[7],
		Reserved:   parts[8],
	}, nil
}

// ParseGroupLine parses one group(5) line.
func ParseGroupLine(line string) (*GroupEntry, error) {
	parts := parseColonLine(line)
	if len(parts) < 4 {
		return nil, fmt.Errorf("%w: group line has %d fields", ErrMalformedEntry, len(parts))
	}
	gid, err := atoi(parts[2], "group.gid")
	if err != nil {
		return nil, err
	}
	members := []string{}
	if parts[3] != "" {
		members = strings.Split(parts[3], ",")
	}
	return &GroupEntry{Name: parts[0], Passwd: parts[1], GID: gid, Members: members}, nil
}

// FirstPasswd parses the first passwd entry in getent output.
func FirstPasswd(r io.Reader) (*PasswdEntry, error) {
	line, err := firstLine(r)
	if err != nil {
		return nil, err
	}
	return ParsePasswdLine(line)
}

// FirstShadow parses the first shadow entry in getent output.
func FirstShadow(r io.Reader) (*ShadowEntry, error) {
	line, err := firstLine(r)
	if err != nil {
		return nil, err
	}
	return ParseShadowLine(line)
}

// FirstGroup parses the first group entry in getent output.
func FirstGroup(r io.Reader) (*GroupEntry, error) {
	line, err := firstLine(r)
	if err != nil {
		return nil, err
	}
	return ParseGroupLine(line)
}

func firstLine(r io.Reader) (string, error) {
	lines, err := readLines(r)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: empty output", ErrMalformedEntry)
	}
	return lines[0], nil
}
