package repository

import (
	"github.com/google/uuid"
)

// isUUID 잘못된 형식의 ID 로 쿼리하면 Postgres 가 캐스팅 에러를 내므로 미리 걸러낸다
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
