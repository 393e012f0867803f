package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	roles       []*discordgo.Role
	memberPages [][]*discordgo.Member
	page        int

	roleAdds    [][2]string // userID, roleID
	roleRemoves [][2]string
	dmUser      string
	messages    []string
}

func (f *fakeSession) GuildMembers(_, _ string, _ int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	if f.page >= len(f.memberPages) {
		return nil, nil
	}
	page := f.memberPages[f.page]
	f.page++
	return page, nil
}

func (f *fakeSession) GuildRoles(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return f.roles, nil
}

func (f *fakeSession) GuildMemberRoleAdd(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.roleAdds = append(f.roleAdds, [2]string{userID, roleID})
	return nil
}

func (f *fakeSession) GuildMemberRoleRemove(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.roleRemoves = append(f.roleRemoves, [2]string{userID, roleID})
	return nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.dmUser = recipientID
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.messages = append(f.messages, channelID+": "+content)
	return &discordgo.Message{}, nil
}

func member(userID string, roleIDs ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roleIDs}
}

func newTestClient(f *fakeSession) *Client {
	return &Client{session: f, guildID: "guild", log: zerolog.Nop()}
}

func TestMemberRoles_MapsIDsToNames(t *testing.T) {
	f := &fakeSession{
		roles: []*discordgo.Role{
			{ID: "r1", Name: "Contributor"},
			{ID: "r2", Name: "Core"},
		},
		memberPages: [][]*discordgo.Member{{
			member("100", "r1", "r2"),
			member("200", "r1", "unknown-role"),
			member("300"),
		}},
	}
	c := newTestClient(f)

	got, err := c.MemberRoles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Contributor", "Core"}, got["100"])
	assert.Equal(t, []string{"Contributor"}, got["200"], "unknown role ids dropped")
	assert.Empty(t, got["300"])
}

func TestAddRemoveRole_ResolvesRoleName(t *testing.T) {
	f := &fakeSession{
		roles: []*discordgo.Role{{ID: "r9", Name: "Trusted"}},
	}
	c := newTestClient(f)
	ctx := context.Background()

	require.NoError(t, c.AddRole(ctx, "100", "Trusted"))
	require.Len(t, f.roleAdds, 1)
	assert.Equal(t, [2]string{"100", "r9"}, f.roleAdds[0])

	require.NoError(t, c.RemoveRole(ctx, "100", "Trusted"))
	require.Len(t, f.roleRemoves, 1)

	err := c.AddRole(ctx, "100", "Nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSendDM(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(f)

	require.NoError(t, c.SendDM(context.Background(), "100", "congrats"))
	assert.Equal(t, "100", f.dmUser)
	require.Len(t, f.messages, 1)
	assert.Equal(t, "dm-100: congrats", f.messages[0])
}

func TestSendChannelMessage(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(f)

	require.NoError(t, c.SendChannelMessage(context.Background(), "chan-1", "weekly report"))
	require.Len(t, f.messages, 1)
	assert.Equal(t, "chan-1: weekly report", f.messages[0])
}
