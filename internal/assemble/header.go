package assemble

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Numeric placeholders embedded in the header template. Each token is
// replaced by a zero-padded decimal of exactly the token's byte length,
// so substituting them never changes the header's frozen byte length.
const (
	tokenExecutableSize = "@FIRST_PAYLOAD_SIZE@"   // size of the extraction executable
	tokenHeaderSize     = "@NON_PAYLOAD_SIZE@"     // the header's own byte length
	tokenPayloadOffset  = "@PAYLOAD_OFFSET_BYTES@" // header length + executable size
	tokenTarballSize    = "@TARBALL_SIZE_BYTES@"   // payload tarball size
	tokenTotalSize      = "@TOTAL_SIZE_BYTES@"     // full installer size
)

var (
	// ErrSizeOverflow is returned when a size value does not fit the fixed
	// digit width of its placeholder.
	ErrSizeOverflow = errors.New("size exceeds placeholder digit width")

	// ErrMissingPlaceholder is returned when the template lacks a required
	// numeric placeholder.
	ErrMissingPlaceholder = errors.New("header template is missing placeholder")

	// ErrLayoutBroken reports a violated offset invariant: after numeric
	// substitution the embedded sizes no longer describe the installer.
	ErrLayoutBroken = errors.New("header layout invariant violated")
)

// headerInput carries everything the header render needs.
type headerInput struct {
	// template is the raw header template text.
	template string
	// flags drive #if conditional preprocessing.
	flags map[string]bool
	// values are the content placeholders, keyed literally ("__NAME__").
	values map[string]string
	// executableSize and tarballSize are the payload component sizes.
	executableSize int64
	tarballSize    int64
}

// renderHeader produces the final header bytes. Content substitution may
// change the text length; after it the length is frozen, offsets are
// computed from it, and the numeric placeholders are substituted
// width-preservingly. The layout invariant
//
//	len(header) + executableSize + tarballSize == total
//
// is asserted against the embedded total before returning.
func renderHeader(in headerInput) ([]byte, error) {
	data, err := preprocess(in.template, in.flags)
	if err != nil {
		return nil, fmt.Errorf("preprocess header template: %w", err)
	}

	data = substituteContent(data, in.values)

	// __LINES__ depends on the fully substituted text, so it goes last in
	// the content pass.
	data = strings.ReplaceAll(data, "__LINES__", strconv.Itoa(strings.Count(data, "\n")+1))

	// Byte length is frozen from here on.
	headerSize := int64(len(data))
	payloadOffset := headerSize + in.executableSize
	total := payloadOffset + in.tarballSize

	for token, value := range map[string]int64{
		tokenExecutableSize: in.executableSize,
		tokenHeaderSize:     headerSize,
		tokenPayloadOffset:  payloadOffset,
		tokenTarballSize:    in.tarballSize,
		tokenTotalSize:      total,
	} {
		data, err = substituteNumeric(data, token, value)
		if err != nil {
			return nil, err
		}
	}

	if int64(len(data))+in.executableSize+in.tarballSize != total {
		return nil, fmt.Errorf("%w: header %d + executable %d + tarball %d != total %d",
			ErrLayoutBroken, len(data), in.executableSize, in.tarballSize, total)
	}

	return []byte(data), nil
}

// substituteContent replaces content placeholders in deterministic order.
func substituteContent(data string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		data = strings.ReplaceAll(data, key, values[key])
	}

	return data
}

// substituteNumeric replaces every occurrence of token with value, zero
// padded to exactly the token's byte length.
func substituteNumeric(data, token string, value int64) (string, error) {
	if !strings.Contains(data, token) {
		return "", fmt.Errorf("%w: %s", ErrMissingPlaceholder, token)
	}

	formatted := fmt.Sprintf("%0*d", len(token), value)
	if len(formatted) != len(token) {
		return "", fmt.Errorf("%w: %s does not hold %d", ErrSizeOverflow, token, value)
	}

	return strings.ReplaceAll(data, token, formatted), nil
}

// platformFlags derives the platform predicates used by header templates
// from a platform tag like "linux-64" or "osx-arm64".
func platformFlags(platform string) map[string]bool {
	return map[string]bool{
		"linux":  strings.HasPrefix(platform, "linux-"),
		"osx":    strings.HasPrefix(platform, "osx-"),
		"x86":    strings.HasSuffix(platform, "-32"),
		"x86_64": strings.HasSuffix(platform, "-64"),
	}
}

// condarcCommands renders the install-command lines that write the
// embedded channel list into the target environment's condarc.
func condarcCommands(channels []string) []string {
	if len(channels) == 0 {
		return nil
	}

	out := make([]string, 0, len(channels)+1)
	out = append(out, `echo "channels:" > "$PREFIX/.condarc"`)

	for _, c := range channels {
		out = append(out, fmt.Sprintf(`echo "  - %s" >> "$PREFIX/.condarc"`, c))
	}

	return out
}
