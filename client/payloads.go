package client

import "github.com/floegence/loco-go/packet"

// Method names used by the lifecycle.
const (
	MethodGetConf      = "GETCONF"
	MethodCheckin      = "CHECKIN"
	MethodLogin        = "LOGINLIST"
	MethodPing         = "PING"
	MethodChangeServer = "CHANGESVR"
	MethodKickout      = "KICKOUT"
)

// GetConfRequest is the booking request.
type GetConfRequest struct {
	MCCMNC string `bson:"MCCMNC"`
	OS     string `bson:"os"`
	Model  string `bson:"model"`
}

// GetConfResponse is the booking response: check-in hosts and the ports they listen on.
type GetConfResponse struct {
	Status int `bson:"status"`
	Ticket struct {
		LSL  []string `bson:"lsl"`
		LSL6 []string `bson:"lsl6"`
	} `bson:"ticket"`
	Wifi struct {
		Ports []int `bson:"ports"`
	} `bson:"wifi"`
	Cell struct {
		Ports []int `bson:"ports"`
	} `bson:"3g"`
}

// CheckinRequest carries the device, locale and network descriptors.
type CheckinRequest struct {
	UserID     int64  `bson:"userId"`
	OS         string `bson:"os"`
	NetType    int    `bson:"ntype"`
	AppVersion string `bson:"appVer"`
	MCCMNC     string `bson:"MCCMNC"`
	Language   string `bson:"lang"`
	CountryISO string `bson:"countryISO"`
	UseSub     bool   `bson:"useSub"`
}

// CheckinResponse names the main server and how long the answer may be cached.
type CheckinResponse struct {
	Status      int    `bson:"status"`
	Host        string `bson:"host"`
	Host6       string `bson:"host6"`
	Port        int    `bson:"port"`
	CacheExpire int    `bson:"cacheExpire"`
	CSHost      string `bson:"cshost"`
	CSPort      int    `bson:"csport"`
	VSSHost     string `bson:"vsshost"`
	VSSPort     int    `bson:"vssport"`
}

// LoginRequest authenticates the long-lived connection.
type LoginRequest struct {
	AppVersion  string  `bson:"appVer"`
	ProtoVer    string  `bson:"prtVer"`
	OS          string  `bson:"os"`
	Language    string  `bson:"lang"`
	DeviceUUID  string  `bson:"duuid"`
	OAuthToken  string  `bson:"oauthToken"`
	DeviceType  int     `bson:"dtype"`
	NetType     int     `bson:"ntype"`
	MCCMNC      string  `bson:"MCCMNC"`
	Revision    int     `bson:"revision"`
	ChatIDs     []int64 `bson:"chatIds"`
	MaxIDs      []int64 `bson:"maxIds"`
	LastTokenID int64   `bson:"lastTokenId"`
	LBK         int     `bson:"lbk"`
	Background  bool    `bson:"bg"`
}

// LoginResponse is the subset of the login answer the lifecycle consumes.
type LoginResponse struct {
	Status   int   `bson:"status"`
	UserID   int64 `bson:"userId"`
	Revision int   `bson:"revision"`
}

// ChangeServer is the server-switch push.
type ChangeServer struct{}

// Kickout is the forced-logout push.
type Kickout struct {
	Reason int `bson:"reason"`
}

func lifecycleShapes() packet.RegistryConfig {
	return packet.RegistryConfig{
		Methods: map[string]packet.Shape{
			MethodGetConf:      packet.ShapeOf[GetConfResponse](),
			MethodCheckin:      packet.ShapeOf[CheckinResponse](),
			MethodLogin:        packet.ShapeOf[LoginResponse](),
			MethodPing:         packet.Document,
			MethodChangeServer: packet.ShapeOf[ChangeServer](),
			MethodKickout:      packet.ShapeOf[Kickout](),
		},
		BodyTypes: map[int8]packet.Shape{packet.BodyTypeBSON: packet.Document},
	}
}
