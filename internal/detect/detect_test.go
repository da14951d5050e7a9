package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"https scheme", "여기 봐 https://example.com/a", true},
		{"http scheme", "http://bit.ly/abc 확인", true},
		{"www prefix", "www.naver 들어가봐", true},
		{"bare domain", "shop.co.kr 에서 샀어", true},
		{"uppercase domain", "EXAMPLE.COM", true},
		{"io domain", "my.app.io", true},
		{"placeholder only", "링크 여기 <URL>", false},
		{"plain text", "오늘 저녁에 시간 돼?", false},
		{"unknown tld", "file.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasURL(tt.in))
		})
	}
}

func TestHasPhone(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"mobile hyphen", "010-1234-5678", true},
		{"mobile dots", "010.1234.5678", true},
		{"mobile spaces", "010 1234 5678", true},
		{"mobile compact", "01012345678", true},
		{"country code", "+82 10-1234-5678", true},
		{"seoul landline", "02-123-4567", true},
		{"regional landline", "031-1234-5678", true},
		{"placeholder", "문의 <PHONE>", false},
		{"short number", "1234", false},
		{"plain text", "전화 줘", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPhone(tt.in))
		})
	}
}

func TestForbiddenPII(t *testing.T) {
	assert.True(t, HasForbiddenPII("주민등록번호 입력 바랍니다"))
	assert.True(t, HasForbiddenPII("카드번호를 보내주세요"))
	assert.True(t, HasForbiddenPII("실명 확인이 필요합니다"))
	assert.True(t, HasForbiddenPII("배송 주소 변경"))
	// Hangul counts as a word character, so an attached particle blocks the boundary.
	assert.False(t, HasForbiddenPII("주소를 알려주세요"))
	assert.False(t, HasForbiddenPII("오늘만 한정 혜택"))

	assert.Equal(t, " 입력 바랍니다", RemoveForbiddenPII("주민등록번호 입력 바랍니다"))
	assert.Equal(t, "를 보내주세요", RemoveForbiddenPII("카드번호를 보내주세요"))
	assert.Equal(t, "변함없음", RemoveForbiddenPII("변함없음"))
}

func TestFeatures(t *testing.T) {
	u, p := Features("www.test.com 010-1111-2222")
	assert.Equal(t, 1, u)
	assert.Equal(t, 1, p)

	u, p = Features("그냥 인사")
	assert.Equal(t, 0, u)
	assert.Equal(t, 0, p)

	u, p = Features("확인: <URL> 문의: <PHONE>")
	assert.Equal(t, 0, u)
	assert.Equal(t, 0, p)

	u, p = PlaceholderFeatures("확인: <URL> 문의: <PHONE>")
	assert.Equal(t, 1, u)
	assert.Equal(t, 1, p)
}
