//go:build windows

package fileutil

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

func currentUserSID() (*windows.SID, windows.Token, error) {
	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return nil, 0, fmt.Errorf("open process token: %w", err)
	}
	user, err := token.GetTokenUser()
	if err != nil {
		token.Close()
		return nil, 0, fmt.Errorf("get token user: %w", err)
	}
	return user.User.Sid, token, nil
}

// restrictToOwner replaces the DACL on path with a single entry granting the
// current user full control. PROTECTED_DACL stops inheritance from the
// parent directory.
func restrictToOwner(path string) error {
	sid, token, err := currentUserSID()
	if err != nil {
		return err
	}
	defer token.Close()

	ea := windows.EXPLICIT_ACCESS{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}
	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{ea}, nil)
	if err != nil {
		return fmt.Errorf("build ACL: %w", err)
	}
	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, acl, nil,
	)
}

// OwnerOnly reports whether every ACE on path belongs to the current user.
func OwnerOnly(path string) (bool, error) {
	sid, token, err := currentUserSID()
	if err != nil {
		return false, err
	}
	defer token.Close()

	sd, err := windows.GetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return false, fmt.Errorf("read DACL of %s: %w", path, err)
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return false, err
	}
	// A NULL DACL grants everyone access.
	if dacl == nil || dacl.AceCount == 0 {
		return dacl != nil, nil
	}
	for i := range uint32(dacl.AceCount) {
		var ace *windows.ACCESS_ALLOWED_ACE
		if err := windows.GetAce(dacl, i, &ace); err != nil {
			return false, err
		}
		if !(*windows.SID)(unsafe.Pointer(&ace.SidStart)).Equals(sid) {
			return false, nil
		}
	}
	return true, nil
}
