package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     error
		wantErrType interface{}
	}{
		{
			name: "valid single include",
			cfg:  Config{Includes: []string{"src/**"}},
		},
		{
			name: "valid with excludes",
			cfg:  Config{Includes: []string{"**/*.cpp"}, Excludes: []string{"third_party/**"}},
		},
		{
			name:    "no includes",
			cfg:     Config{},
			wantErr: ErrNoIncludes,
		},
		{
			name:    "empty includes slice",
			cfg:     Config{Includes: []string{}},
			wantErr: ErrNoIncludes,
		},
		{
			name:        "invalid include pattern",
			cfg:         Config{Includes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
		{
			name:        "invalid exclude pattern",
			cfg:         Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, m)
			case tt.wantErrType != nil:
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.ErrorIs(t, err, ErrInvalidPattern)
				assert.Nil(t, m)
			default:
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"src/**/*.{c,cc,cpp}", "tools/*.cpp"},
		Excludes: []string{"src/gen/**", "**/*_test.cpp"},
	})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"src/a.cpp", true},
		{"src/net/socket.cc", true},
		{"src/lib/x.c", true},
		{"src/a.h", false},
		{"src/gen/proto.cpp", false},
		{"src/a_test.cpp", false},
		{"tools/fmt.cpp", true},
		{"tools/sub/fmt.cpp", false},
		{"src/.cache/a.cpp", false},
		{"other/a.cpp", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path))
		})
	}
}

func TestMatcher_IncludeHidden(t *testing.T) {
	m, err := New(Config{Includes: []string{"**/*.c"}, IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, m.Match(".hidden/a.c"))

	m, err = New(Config{Includes: []string{"**/*.c"}})
	require.NoError(t, err)
	assert.False(t, m.Match(".hidden/a.c"))
}

func TestMatcher_MatchFile(t *testing.T) {
	m, err := New(Config{Includes: []string{"src/**"}})
	require.NoError(t, err)

	assert.True(t, m.MatchFile("/proj", "/proj/src/a.cpp"))
	assert.True(t, m.MatchFile("/proj/", "/proj/src/../src/a.cpp"))
	assert.False(t, m.MatchFile("/proj", "/other/src/a.cpp"))
	assert.False(t, m.MatchFile("/proj", "/proj/lib/a.cpp"))
}

func TestMatcher_Patterns(t *testing.T) {
	m, err := New(Config{Includes: []string{`src\lib/**`}, Excludes: []string{"./gen/**"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib/**"}, m.IncludePatterns())
	assert.Equal(t, []string{"gen/**"}, m.ExcludePatterns())
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"src/**/*.cpp", "src/**/*.cpp"},
		{`src\gen\a.cpp`, "src/gen/a.cpp"},
		{`src\lib/**/*.cpp`, "src/lib/**/*.cpp"},
		{`src\**`, `src\**`},
		{`gen/file\*.cc`, `gen/file\*.cc`},
		{`a\[b\].c`, `a\[b\].c`},
		{"./src/**", "src/**"},
		{`trailing\`, "trailing/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePattern(tt.in))
		})
	}
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden("src/a.cpp"))
	assert.True(t, IsHidden(".git/x.c"))
	assert.True(t, IsHidden("third_party/.gen/y.c"))
	assert.False(t, IsHidden("../src/a.cpp"))
	assert.False(t, IsHidden("src/a.cpp."))
	assert.False(t, IsHidden(""))
}

func TestRelativePath(t *testing.T) {
	rel, ok := RelativePath("/proj", "/proj/src/a.cpp")
	assert.True(t, ok)
	assert.Equal(t, "src/a.cpp", rel)

	_, ok = RelativePath("/proj", "/projects/a.cpp")
	assert.False(t, ok)

	_, ok = RelativePath("/proj", "/")
	assert.False(t, ok)
}
