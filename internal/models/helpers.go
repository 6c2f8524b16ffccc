package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func GenerateBetID() string {
	return fmt.Sprintf("bet_%s_%s",
		time.Now().UTC().Format("20060102"),
		uuid.NewString())
}

func ParseGameType(s string) (GameType, error) {
	switch GameType(s) {
	case GameTypeOddEven, GameTypeBankerPlayer:
		return GameType(s), nil
	}
	return "", fmt.Errorf("unknown game type: %s", s)
}

func ExplorerLink(base string, height int64) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s%d", base, height)
}
