package antibot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
)

type fakePage struct {
	visible map[string]bool
	html    string
	htmlErr error
	clicked []string
	failSel map[string]error
}

func (f *fakePage) Visible(sel string) (bool, error) {
	if err, ok := f.failSel[sel]; ok {
		return false, err
	}
	return f.visible[sel], nil
}

func (f *fakePage) HTML() (string, error) {
	return f.html, f.htmlErr
}

func (f *fakePage) Click(sel string) error {
	f.clicked = append(f.clicked, sel)
	return nil
}

func TestDetect_VisibleCaptchaElementWins(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		visible: map[string]bool{`.g-recaptcha`: true},
		html:    "<html>plain content</html>",
	}

	sig, err := NewDetector(zap.NewNop()).Detect(page)
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, "captcha", sig.Kind)
	require.Equal(t, `.g-recaptcha`, sig.Marker)
	require.True(t, harvest.IsBlocked(sig.Err()))
}

func TestDetect_HiddenElementIgnored_KeywordFallback(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		visible: map[string]bool{},
		html:    "<html><body>Please VERIFY you are human to continue</body></html>",
	}

	sig, err := NewDetector(zap.NewNop()).Detect(page)
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, "keyword", sig.Kind)
	require.Equal(t, "verify you are human", sig.Marker)
}

func TestDetect_CleanPage(t *testing.T) {
	t.Parallel()

	page := &fakePage{html: "<html><body>search results</body></html>"}
	sig, err := NewDetector(zap.NewNop()).Detect(page)
	require.NoError(t, err)
	require.Nil(t, sig)
}

func TestDetect_SelectorProbeErrorsSkipped(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		failSel: map[string]error{`iframe[src*="recaptcha"]`: errors.New("probe timeout")},
		visible: map[string]bool{`#captcha`: true},
		html:    "<html></html>",
	}

	sig, err := NewDetector(zap.NewNop()).Detect(page)
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, `#captcha`, sig.Marker)
}

func TestDetect_HTMLReadFailure(t *testing.T) {
	t.Parallel()

	page := &fakePage{htmlErr: errors.New("tab gone")}
	sig, err := NewDetector(zap.NewNop()).Detect(page)
	require.Error(t, err)
	require.Nil(t, sig)
}

func TestDismissPopup_ClicksFirstVisibleControl(t *testing.T) {
	t.Parallel()

	page := &fakePage{visible: map[string]bool{`.modal-close`: true}}
	d := NewDetector(zap.NewNop())

	require.True(t, d.DismissPopup(page))
	require.Equal(t, []string{`.modal-close`}, page.clicked)
}

func TestDismissPopup_CustomSelectorsTakePriority(t *testing.T) {
	t.Parallel()

	page := &fakePage{visible: map[string]bool{`#agree`: true, `.modal-close`: true}}
	d := NewDetector(zap.NewNop())

	require.True(t, d.DismissPopup(page, `#agree`))
	require.Equal(t, []string{`#agree`}, page.clicked)
}

func TestDismissPopup_NothingVisible(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	require.False(t, NewDetector(zap.NewNop()).DismissPopup(page))
	require.Empty(t, page.clicked)
}
