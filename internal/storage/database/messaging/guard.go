package messaging

import "regexp"

// 文檔 ID 為 ObjectID 十六進制字串
var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// 分頁跳過上限，避免深分頁掃描
const maxSkip = 100000

// validID 畸形的 ID 不可能命中任何文檔，直接按不存在處理
func validID(id string) bool {
	return objectIDPattern.MatchString(id)
}

func clampSkip(skip int) int {
	if skip < 0 {
		return 0
	}
	if skip > maxSkip {
		return maxSkip
	}
	return skip
}
