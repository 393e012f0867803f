// Package discord adapts the Discord REST API for the role reader and
// writer. No gateway connection is opened: every call is a one-shot HTTP
// request through discordgo's REST client.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const memberPageSize = 1000

// session is the slice of discordgo.Session the adapter needs. Narrowed for
// test fakes.
type session interface {
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client is a REST-only Discord adapter scoped to one guild.
type Client struct {
	session session
	guildID string
	log     zerolog.Logger
}

// NewClient builds a Client from a bot token. The underlying session is
// used purely for REST calls; Open is never called on it.
func NewClient(token, guildID string, log zerolog.Logger) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Client{
		session: s,
		guildID: guildID,
		log:     log.With().Str("component", "discord").Logger(),
	}, nil
}

// MemberRoles returns role names per member, paging through the full guild
// member list.
func (c *Client) MemberRoles(ctx context.Context) (map[string][]string, error) {
	roleNames, err := c.roleNamesByID(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]string)
	after := ""
	for {
		members, err := c.session.GuildMembers(c.guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("guild members: %w", err)
		}
		for _, m := range members {
			var names []string
			for _, roleID := range m.Roles {
				if name, ok := roleNames[roleID]; ok {
					names = append(names, name)
				}
			}
			result[m.User.ID] = names
			after = m.User.ID
		}
		if len(members) < memberPageSize {
			return result, nil
		}
	}
}

func (c *Client) roleNamesByID(ctx context.Context) (map[string]string, error) {
	roles, err := c.session.GuildRoles(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("guild roles: %w", err)
	}
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.Name
	}
	return byID, nil
}

func (c *Client) roleIDByName(ctx context.Context, name string) (string, error) {
	roles, err := c.session.GuildRoles(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("guild roles: %w", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("role %q not found in guild", name)
}

// AddRole grants the named role to a member.
func (c *Client) AddRole(ctx context.Context, userID, roleName string) error {
	roleID, err := c.roleIDByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := c.session.GuildMemberRoleAdd(c.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add role %q: %w", roleName, err)
	}
	c.log.Info().Str("user", userID).Str("role", roleName).Msg("role granted")
	return nil
}

// RemoveRole revokes the named role from a member.
func (c *Client) RemoveRole(ctx context.Context, userID, roleName string) error {
	roleID, err := c.roleIDByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := c.session.GuildMemberRoleRemove(c.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove role %q: %w", roleName, err)
	}
	c.log.Info().Str("user", userID).Str("role", roleName).Msg("role revoked")
	return nil
}

// SendDM opens (or reuses) the user's DM channel and sends a message.
func (c *Client) SendDM(ctx context.Context, userID, content string) error {
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("dm channel: %w", err)
	}
	if _, err := c.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

// SendChannelMessage posts to a guild channel.
func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) error {
	if _, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
