package service

import "schoolpay/internal/domain"

// Actor is the authenticated caller, taken from the JWT claims.
type Actor struct {
	UserID    uint
	TenantID  uint
	StudentID uint // zero for staff
	Role      string
}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// owns reports whether the actor may see a student's payments.
func (a Actor) owns(studentID uint) bool {
	return a.IsAdmin() || (a.StudentID != 0 && a.StudentID == studentID)
}

func (a Actor) triggerSource() string {
	if a.IsAdmin() {
		return domain.TriggerAdminManual
	}
	return domain.TriggerStudentPortal
}

func (a Actor) actorID() *uint {
	if a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}
