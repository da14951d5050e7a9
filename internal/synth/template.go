package synth

import (
	"math/rand"
	"strings"

	"github.com/yoon0701/ZeroGravity/internal/detect"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

var (
	templateHints = []string{"박람회", "이벤트", "쿠폰", "환급", "인증", "계정", "배송", "투자"}

	templateBases = []string{
		"지금 확인하지 않으면 이용이 제한될 수 있습니다.",
		"오늘만 한정 혜택이 제공됩니다.",
		"본인 확인 후 절차를 완료해 주세요.",
	}

	templateBaits = []string{
		"무료 혜택은 선착순으로 마감됩니다!",
		"긴급 안내이니 바로 확인 바랍니다!",
		"당첨 혜택을 놓치지 마세요!",
	}

	templateTails = []string{
		"확인: " + detect.URLToken,
		"상세: " + detect.URLToken,
		"확인: " + detect.URLToken + " 문의: " + detect.PhoneToken,
	}
)

// TemplateMessage builds a spam message without calling a model. It is two
// sentences followed by a link label, always carries <URL> and always passes
// Check. When the seed mentions a known topic the second sentence names it.
// The output depends only on instructText and the state of rng.
func TemplateMessage(instructText string, rng *rand.Rand) string {
	var hints []string
	for _, w := range templateHints {
		if strings.Contains(instructText, w) {
			hints = append(hints, w)
		}
	}

	base := templateBases[rng.Intn(len(templateBases))]
	var bait string
	if len(hints) > 0 {
		bait = hints[rng.Intn(len(hints))] + " 관련 안내를 선착순으로 드립니다!"
	} else {
		bait = templateBaits[rng.Intn(len(templateBaits))]
	}
	tail := templateTails[rng.Intn(len(templateTails))]

	msg := normalize.CollapseSpaces(base + " " + bait + " " + tail)
	if !strings.Contains(msg, detect.URLToken) {
		msg += " 확인: " + detect.URLToken
	}
	return msg
}

// PickCondition draws one of the ham generation conditions.
func PickCondition(rng *rand.Rand) models.Condition {
	return models.HamConditions[rng.Intn(len(models.HamConditions))]
}
